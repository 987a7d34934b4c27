// Package rest provides an HTTP client for the SharePoint REST API with
// authentication, form digest handling, automatic retry, and error
// classification.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, rest.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("rest: bad request")
	ErrUnauthorized = errors.New("rest: unauthorized")
	ErrForbidden    = errors.New("rest: forbidden")
	ErrNotFound     = errors.New("rest: not found")
	ErrConflict     = errors.New("rest: conflict")
	ErrThrottled    = errors.New("rest: throttled")
	ErrLocked       = errors.New("rest: resource locked")
	ErrServerError  = errors.New("rest: server error")
)

// ErrAuthFailed indicates credential acquisition failed. It is returned by
// Authorizer implementations, never silently swallowed: a handle is only
// handed to callers once authentication has actually succeeded.
var ErrAuthFailed = errors.New("rest: authentication failed")

// APIError wraps a sentinel error with the HTTP status code, the
// SPRequestGuid correlation header, and the OData error message.
type APIError struct {
	StatusCode  int
	RequestGUID string
	Message     string
	Err         error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestGUID != "" {
		return fmt.Sprintf("rest: HTTP %d (SPRequestGuid: %s): %s", e.StatusCode, e.RequestGUID, e.Message)
	}

	return fmt.Sprintf("rest: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// odataError mirrors the SharePoint OData error envelope.
type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message struct {
			Value string `json:"value"`
		} `json:"message"`
	} `json:"odata.error"` //nolint:tagliatelle // OData annotation key
}

// errorMessage extracts the human-readable message from an OData error body,
// falling back to the raw body when the envelope doesn't parse.
func errorMessage(body []byte) string {
	var oe odataError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error.Message.Value != "" {
		return oe.Error.Message.Value
	}

	return string(body)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded.
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
