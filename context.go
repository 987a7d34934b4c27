package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/contentops/sharepoint-go/rest"
)

// loadable is a remote handle whose properties can be materialized.
// Staging a load with ClientContext.Load declares interest; nothing is
// fetched until ClientContext.Execute flushes the queue.
type loadable interface {
	refresh(ctx context.Context, cc *ClientContext) error
	describe() string
}

// deletable is a remote object that can be staged for deletion and flushed
// together with other staged commands in one Execute call.
type deletable interface {
	deletePath() string
	describe() string
}

// command is a staged unit of work. Commands run sequentially in staging
// order when the queue is flushed.
type command interface {
	run(ctx context.Context, cc *ClientContext) error
}

type loadCommand struct {
	res loadable
}

func (c loadCommand) run(ctx context.Context, cc *ClientContext) error {
	if err := c.res.refresh(ctx, cc); err != nil {
		return fmt.Errorf("loading %s: %w", c.res.describe(), err)
	}

	return nil
}

type deleteCommand struct {
	res deletable

	// ignoreMissing makes a not-found deletion a no-op, so re-running a
	// partially completed folder tree deletion does not fail on children
	// that are already gone.
	ignoreMissing bool
}

func (c deleteCommand) run(ctx context.Context, cc *ClientContext) error {
	err := cc.deleteResource(ctx, c.res.deletePath())
	if err != nil && c.ignoreMissing && errors.Is(err, rest.ErrNotFound) {
		cc.logger.Debug("staged delete target already gone",
			slog.String("resource", c.res.describe()),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("deleting %s: %w", c.res.describe(), err)
	}

	return nil
}

// ClientContext is an authenticated session with a single SharePoint site.
// It owns the REST transport and the staging queue for the two-phase
// load/execute contract. A ClientContext is not safe for concurrent use;
// callers wanting shared access go through Manager.
type ClientContext struct {
	rest    *rest.Client
	logger  *slog.Logger
	web     *Web
	pending []command
}

// NewWithClient wraps an existing rest.Client in a ClientContext without
// performing any authentication round trip. Connect is the usual entry
// point; this constructor serves tests and callers with custom transports.
func NewWithClient(rc *rest.Client, opts ...Option) *ClientContext {
	o := applyOptions(opts)

	return &ClientContext{
		rest:   rc,
		logger: o.logger,
		web:    &Web{},
	}
}

// Web returns the handle for the site's root web. Connect materializes it;
// afterwards its Title and ServerRelativeURL are populated.
func (cc *ClientContext) Web() *Web {
	return cc.web
}

// Load stages handles for materialization. No network traffic happens until
// Execute flushes the queue; a load that is never executed leaves the handle
// unmaterialized.
func (cc *ClientContext) Load(resources ...loadable) {
	for _, r := range resources {
		cc.pending = append(cc.pending, loadCommand{res: r})
	}
}

// StageDelete stages resources for deletion. Staged deletions tolerate
// targets that no longer exist, so a retried tree deletion skips children
// removed by an earlier partial run.
func (cc *ClientContext) StageDelete(resources ...deletable) {
	for _, r := range resources {
		cc.pending = append(cc.pending, deleteCommand{res: r, ignoreMissing: true})
	}
}

// Execute flushes the staged queue, running each command in staging order.
// The queue is cleared before the first command runs; on error the remaining
// commands of that flush are discarded and the error is returned.
func (cc *ClientContext) Execute(ctx context.Context) error {
	queue := cc.pending
	cc.pending = nil

	for _, cmd := range queue {
		if err := cmd.run(ctx, cc); err != nil {
			return err
		}
	}

	return nil
}

// Pending reports how many commands are staged and not yet executed.
func (cc *ClientContext) Pending() int {
	return len(cc.pending)
}

// getJSON performs a GET and decodes the response into out.
func (cc *ClientContext) getJSON(ctx context.Context, path string, out any) error {
	resp, err := cc.rest.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sharepoint: decoding response: %w", err)
	}

	return nil
}

// collectionPage mirrors the OData collection envelope.
type collectionPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// getCollection retrieves a full OData collection, following odata.nextLink
// until the collection is exhausted.
func (cc *ClientContext) getCollection(ctx context.Context, path string) ([]json.RawMessage, error) {
	var all []json.RawMessage

	for path != "" {
		var page collectionPage
		if err := cc.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Value...)

		if page.NextLink == "" {
			break
		}

		next, err := cc.stripBaseURL(page.NextLink)
		if err != nil {
			return nil, err
		}

		path = next
	}

	return all, nil
}

// stripBaseURL removes the site URL prefix from a full URL, returning the
// path + query string for use with the transport.
func (cc *ClientContext) stripBaseURL(fullURL string) (string, error) {
	base := cc.rest.BaseURL()
	if !strings.HasPrefix(fullURL, base) {
		return "", fmt.Errorf("sharepoint: nextLink URL %q does not match site URL %q", fullURL, base)
	}

	return fullURL[len(base):], nil
}

// deleteResource issues a tunneled DELETE against the given API path.
func (cc *ClientContext) deleteResource(ctx context.Context, path string) error {
	headers := http.Header{
		"X-HTTP-Method": {"DELETE"},
		"IF-MATCH":      {"*"},
	}

	resp, err := cc.rest.DoWithHeaders(ctx, http.MethodPost, path, nil, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining delete response: %w", copyErr)
	}

	return nil
}

// quoteArg prepares a string for interpolation inside a quoted OData
// function argument: embedded single quotes are doubled and each
// slash-separated segment is URL-escaped, so server-relative paths keep
// their separators while names with #, %, or spaces stay addressable.
func quoteArg(s string) string {
	segments := strings.Split(strings.ReplaceAll(s, "'", "''"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// Web is the handle for a site's root web.
type Web struct {
	Title             string
	ServerRelativeURL string

	loaded bool
}

// webResponse mirrors the /_api/web JSON payload.
type webResponse struct {
	Title             string `json:"Title"`             //nolint:tagliatelle // SharePoint API key
	ServerRelativeURL string `json:"ServerRelativeUrl"` //nolint:tagliatelle // SharePoint API key
}

func (w *Web) refresh(ctx context.Context, cc *ClientContext) error {
	var resp webResponse
	if err := cc.getJSON(ctx, "/_api/web", &resp); err != nil {
		return err
	}

	w.Title = resp.Title
	w.ServerRelativeURL = resp.ServerRelativeURL
	w.loaded = true

	return nil
}

func (w *Web) describe() string {
	return "web"
}

// Loaded reports whether the handle has been materialized by an Execute.
func (w *Web) Loaded() bool {
	return w.loaded
}
