package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// digestExpirySlack is subtracted from the server-reported digest lifetime
// so a digest is never used right at its expiry boundary.
const digestExpirySlack = 30 * time.Second

// digestCache holds the current form digest for a site. SharePoint requires
// an X-RequestDigest header on every write; the digest is valid for a
// server-defined window (typically 30 minutes) and is refreshed lazily.
type digestCache struct {
	mu      sync.Mutex
	value   string
	expires time.Time
}

// contextInfoResponse mirrors the /_api/contextinfo JSON payload.
type contextInfoResponse struct {
	FormDigestValue          string `json:"FormDigestValue"`          //nolint:tagliatelle // SharePoint API key
	FormDigestTimeoutSeconds int    `json:"FormDigestTimeoutSeconds"` //nolint:tagliatelle // SharePoint API key
}

// requestDigest returns a valid form digest, fetching a fresh one from
// /_api/contextinfo when the cached value is missing or expired.
func (c *Client) requestDigest(ctx context.Context) (string, error) {
	c.digest.mu.Lock()
	defer c.digest.mu.Unlock()

	if c.digest.value != "" && time.Now().Before(c.digest.expires) {
		return c.digest.value, nil
	}

	// The contextinfo call itself is a POST that needs no digest.
	resp, err := c.doOnce(ctx, http.MethodPost, c.baseURL+"/_api/contextinfo", nil, nil, false)
	if err != nil {
		return "", fmt.Errorf("rest: fetching form digest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode:  resp.StatusCode,
			RequestGUID: resp.Header.Get("SPRequestGuid"),
			Message:     "contextinfo request failed",
			Err:         classifyStatus(resp.StatusCode),
		}
	}

	var info contextInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("rest: decoding contextinfo response: %w", err)
	}

	if info.FormDigestValue == "" {
		return "", fmt.Errorf("rest: contextinfo response contained no form digest")
	}

	lifetime := time.Duration(info.FormDigestTimeoutSeconds) * time.Second
	if lifetime > digestExpirySlack {
		lifetime -= digestExpirySlack
	}

	c.digest.value = info.FormDigestValue
	c.digest.expires = time.Now().Add(lifetime)

	c.logger.Debug("form digest refreshed",
		slog.Time("expires", c.digest.expires),
	)

	return c.digest.value, nil
}
