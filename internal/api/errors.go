package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is matched (errors.Is) by API errors for missing actors,
// records and posts, and returned directly when a lookup comes back empty.
var ErrNotFound = errors.New("not found")

// APIError is returned when the PDS answers with an XRPC error body.
type APIError struct {
	StatusCode int
	Name       string
	Message    string

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("XRPC error (HTTP %d %s): %s", e.StatusCode, e.Name, e.Message)
	case e.Name != "":
		return fmt.Sprintf("XRPC error (HTTP %d %s)", e.StatusCode, e.Name)
	default:
		return fmt.Sprintf("XRPC error (HTTP %d): %s", e.StatusCode, e.Message)
	}
}

// RetryAfter is the server-requested delay, zero when none was sent.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.Name {
	case "NotFound", "RecordNotFound", "ProfileNotFound":
		return true
	}
	if e.StatusCode == 404 {
		return true
	}
	return e.StatusCode == 400 && containsAny(e.Message, "not found", "unable to resolve handle")
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err means the server throttled us.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.StatusCode == 429 || apiErr.Name == "RateLimitExceeded" {
			return true
		}
	}
	return containsAny(err.Error(), "ratelimitexceeded", "rate limit", "too many requests")
}

// IsAlreadyExists reports whether a create failed because the record exists.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Name == "AlreadyExists" {
		return true
	}
	return containsAny(err.Error(), "already exists", "duplicate")
}

// IsNotFound reports whether err means the subject does not exist.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// IsExpiredToken reports whether the access token must be refreshed.
func IsExpiredToken(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Name == "ExpiredToken" {
			return true
		}
		return apiErr.StatusCode == 400 && containsAny(apiErr.Message, "token has expired")
	}
	return false
}

// IsTransient reports whether a request may succeed if repeated: throttling,
// server errors and network failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.StatusCode >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
