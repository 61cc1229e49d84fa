// Package cloud defines the provider-independent domain: the normalized
// remote file model, the Provider capability set implemented by the
// GitHub, Google Drive, and OneDrive variants, and the uniform error
// taxonomy all of them classify into.
package cloud

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the uniform failure taxonomy.
// Use errors.Is(err, cloud.ErrNotFound) to check.
var (
	ErrUnauthorized = errors.New("cloud: unauthorized")
	ErrForbidden    = errors.New("cloud: forbidden")
	ErrRateLimited  = errors.New("cloud: rate limited")
	ErrNotFound     = errors.New("cloud: not found")
	ErrConflict     = errors.New("cloud: conflict")
	ErrNetwork      = errors.New("cloud: network error")

	// ErrPaginationLimit is returned when chained listing exceeds the
	// page bound without the provider reporting an end.
	ErrPaginationLimit = errors.New("cloud: pagination limit exceeded")

	// ErrUnsupportedOperation is returned for operations a provider
	// cannot perform, such as downloading a folder.
	ErrUnsupportedOperation = errors.New("cloud: unsupported operation")
)

// ProviderError wraps a sentinel error with the provider, operation,
// HTTP status, and optional Retry-After hint for rate-limited calls.
type ProviderError struct {
	Provider   Name
	Op         string
	StatusCode int
	RetryAfter time.Duration // zero if the provider gave no hint
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cloud: %s %s: HTTP %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("cloud: %s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes. Pure and stateless.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusBadRequest {
			return ErrNetwork
		}

		return nil
	}
}

// quotaMarkers are substrings Google APIs use in 403 bodies that mean
// throttling rather than a permission failure.
var quotaMarkers = [][]byte{
	[]byte("rateLimitExceeded"),
	[]byte("userRateLimitExceeded"),
	[]byte("quotaExceeded"),
}

// Classify maps an HTTP status code plus response body to a sentinel.
// A 403 whose body carries a quota marker is rate limiting, not a
// permission failure — Drive reports throttling this way.
func Classify(code int, body []byte) error {
	if code == http.StatusForbidden {
		for _, m := range quotaMarkers {
			if bytes.Contains(body, m) {
				return ErrRateLimited
			}
		}
	}

	return ClassifyStatus(code)
}

// RetryAfter extracts the Retry-After hint from a ProviderError chain.
// Returns zero if the error carries none.
func RetryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}

	return 0
}
