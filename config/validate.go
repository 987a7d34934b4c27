package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks every profile for completeness: a parseable https site
// URL, a known auth mode, and the credential fields that mode requires.
func Validate(cfg *Config) error {
	for name, p := range cfg.Profiles {
		if err := validateProfile(p); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", cfg.Logging.Level)
	}

	return nil
}

func validateProfile(p Profile) error {
	if p.SiteURL == "" {
		return fmt.Errorf("site_url is required")
	}

	u, err := url.Parse(p.SiteURL)
	if err != nil || u.Host == "" || !strings.HasPrefix(u.Scheme, "http") {
		return fmt.Errorf("site_url %q is not a valid http(s) URL", p.SiteURL)
	}

	switch p.Auth {
	case AuthUser, "":
		if p.Username == "" || p.Password == "" {
			return fmt.Errorf("user auth requires username and password")
		}
	case AuthAddin:
		if p.ClientID == "" || p.ClientSecret == "" || p.Realm == "" {
			return fmt.Errorf("addin auth requires client_id, client_secret, and realm")
		}
	default:
		return fmt.Errorf("auth must be %q or %q (got %q)", AuthUser, AuthAddin, p.Auth)
	}

	return nil
}
