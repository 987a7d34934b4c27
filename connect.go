package sharepoint

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/contentops/sharepoint-go/rest"
)

// Option configures Connect, NewWithClient, and the Manager constructors.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithHTTPClient sets the underlying HTTP client used by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger used by the connection and its transport.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, apply := range opts {
		apply(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// Connect authenticates against the site and returns a ready ClientContext.
// Authentication is eager: the site's root web is loaded and executed before
// Connect returns, so invalid credentials fail here with an explicit error
// instead of surfacing later as nil-handle failures.
func Connect(ctx context.Context, siteURL string, auth rest.Authorizer, opts ...Option) (*ClientContext, error) {
	o := applyOptions(opts)

	rc := rest.NewClient(siteURL, o.httpClient, auth, o.logger)
	cc := &ClientContext{
		rest:   rc,
		logger: o.logger,
		web:    &Web{},
	}

	cc.Load(cc.web)

	if err := cc.Execute(ctx); err != nil {
		return nil, fmt.Errorf("sharepoint: connecting to %s: %w", siteURL, err)
	}

	o.logger.Info("connected to site",
		slog.String("site", siteURL),
		slog.String("web_title", cc.web.Title),
	)

	return cc, nil
}
