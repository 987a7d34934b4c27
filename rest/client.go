package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "sharepoint-go/0.1"
)

// acceptHeader requests the lightweight OData payload shape: collections
// arrive as {"value":[...]} and entities as flat objects.
const acceptHeader = "application/json;odata=nometadata"

// Authorizer attaches credentials to an outgoing request. Implementations
// own token/cookie acquisition and caching; Authorize is called once per
// HTTP attempt, so a stale credential is refreshed transparently.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// Client is an HTTP client for the SharePoint REST API of a single site.
// It handles request construction, authentication, form digest acquisition
// for writes, retry with exponential backoff, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authorizer
	logger     *slog.Logger
	digest     digestCache

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a REST client for the given site URL
// (e.g. "https://contoso.sharepoint.com/sites/ops").
// Paths passed to Do are appended to the site URL, so API calls
// use paths like "/_api/web".
func NewClient(siteURL string, httpClient *http.Client, auth Authorizer, logger *slog.Logger) *Client {
	if auth == nil {
		panic("rest: NewClient requires an Authorizer")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(siteURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the site URL the client was constructed with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an HTTP request against the site's REST API. The path is
// appended to the site URL. Non-GET requests automatically carry a form
// digest. For non-nil bodies, Content-Type defaults to the OData JSON type.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.DoWithHeaders(ctx, method, path, body, nil)
}

// DoWithHeaders is Do with extra request headers. A Content-Type or
// IF-MATCH set here overrides the defaults; X-HTTP-Method tunneling
// (MERGE, DELETE) is passed through untouched.
func (c *Client) DoWithHeaders(
	ctx context.Context, method, path string, body io.Reader, headers http.Header,
) (*http.Response, error) {
	withDigest := method != http.MethodGet
	return c.doRetry(ctx, method, path, body, headers, withDigest)
}

// doRetry runs the retry loop around doOnce. Request bodies must be
// io.Seekers (bytes.Reader etc.) to be replayable; a non-seekable body
// fails the request as soon as a retry is needed.
func (c *Client) doRetry(
	ctx context.Context, method, path string, body io.Reader, headers http.Header, withDigest bool,
) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		// Rewind the body before each retry so the full payload is resent.
		if attempt > 0 && body != nil {
			if err := rewindBody(body); err != nil {
				return nil, err
			}
		}

		resp, err := c.doOnce(ctx, method, url, body, headers, withDigest)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("rest: request canceled: %w", ctx.Err())
			}

			// Credential failures don't heal on retry; fail fast.
			if errors.Is(err, ErrAuthFailed) {
				return nil, err
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("rest: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("rest: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqGUID := resp.Header.Get("SPRequestGuid")

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("rest: request canceled: %w", err)
			}

			attempt++

			continue
		}

		sentinel := classifyStatus(resp.StatusCode)
		apiErr := &APIError{
			StatusCode:  resp.StatusCode,
			RequestGUID: reqGUID,
			Message:     errorMessage(errBody),
			Err:         sentinel,
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url string, body io.Reader, headers http.Header, withDigest bool,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("client-request-id", uuid.NewString())

	if body != nil {
		req.Header.Set("Content-Type", acceptHeader)
	}

	for key, values := range headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if err := c.auth.Authorize(ctx, req); err != nil {
		return nil, fmt.Errorf("authorizing request: %w", err)
	}

	if withDigest {
		digest, err := c.requestDigest(ctx)
		if err != nil {
			return nil, err
		}

		req.Header.Set("X-RequestDigest", digest)
	}

	return c.httpClient.Do(req)
}

// rewindBody seeks a request body back to the start so it can be replayed
// on the next attempt. Non-seekable bodies cannot be retried safely.
func rewindBody(body io.Reader) error {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return fmt.Errorf("rest: request body is not seekable, cannot retry")
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rest: rewinding request body for retry: %w", err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
