// Package config implements TOML configuration loading and validation for
// sharepoint-go. A config file holds named connection profiles (site URL
// plus credentials) and logging settings, so callers can keep credentials
// out of code without inventing their own file format.
package config

import "log/slog"

// Auth mode names accepted in a profile.
const (
	AuthUser  = "user"
	AuthAddin = "addin"
)

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Profiles map[string]Profile `toml:"profile"`
	Logging  LoggingConfig      `toml:"logging"`
}

// Profile is a named connection definition. Auth selects the credential
// flow: "user" requires Username and Password, "addin" requires ClientID,
// ClientSecret, and Realm.
type Profile struct {
	SiteURL      string `toml:"site_url"`
	Auth         string `toml:"auth"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Realm        string `toml:"realm"`
}

// LoggingConfig controls the logging verbosity of the library.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// SlogLevel maps the configured level name to a slog.Level.
// Unknown or empty values default to Info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Profiles: map[string]Profile{},
		Logging:  LoggingConfig{Level: "info"},
	}
}
