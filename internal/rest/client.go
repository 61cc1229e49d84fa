// Package rest is the authenticated HTTP client beneath the REST-based
// providers: request construction, bearer auth, a single retry with
// fixed backoff on connection-level failure, and classification of
// error responses into the uniform cloud taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
)

const (
	// networkRetryBackoff is the fixed wait before the single retry of
	// a connection-level failure.
	networkRetryBackoff = 2 * time.Second

	userAgent = "codexcloud/0.1"

	defaultTimeout = 30 * time.Second
)

// Client executes authenticated requests against one provider's API.
type Client struct {
	provider   cloud.Name
	baseURL    string
	httpClient *http.Client
	token      cloud.TokenSource
	recorder   logsink.Recorder
	logger     *slog.Logger

	// sleepFunc waits between the failed attempt and the retry.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a client for the provider's API rooted at baseURL.
func New(
	provider cloud.Name,
	baseURL string,
	httpClient *http.Client,
	token cloud.TokenSource,
	recorder logsink.Recorder,
	logger *slog.Logger,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	if recorder == nil {
		recorder = logsink.Noop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		recorder:   recorder,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes a request against the provider API. The path is appended
// to the client's base URL. The caller closes the response body on
// success. Non-2xx responses are drained, closed, and returned as a
// classified *cloud.ProviderError.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	return c.DoURL(ctx, method, c.baseURL+path, body, contentType)
}

// DoURL is Do against an absolute URL — some providers hand out full
// download URLs outside the API base.
func (c *Client) DoURL(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	// Token acquisition failures surface as-is — they are auth
	// problems, not connection failures, and must not be retried here.
	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doOnce(ctx, method, url, tok, body, contentType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rest: request canceled: %w", ctx.Err())
		}

		// Connection-level failure: one retry with fixed backoff when
		// the body can be replayed; repeated failure is surfaced.
		if !rewindable(body) {
			return nil, c.networkError(ctx, method, url, err)
		}

		c.logger.Warn("retrying after network error",
			slog.String("provider", string(c.provider)),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, networkRetryBackoff); sleepErr != nil {
			return nil, fmt.Errorf("rest: request canceled: %w", sleepErr)
		}

		if rewindErr := rewind(body); rewindErr != nil {
			return nil, fmt.Errorf("rest: rewinding request body: %w", rewindErr)
		}

		resp, err = c.doOnce(ctx, method, url, tok, body, contentType)
		if err != nil {
			return nil, c.networkError(ctx, method, url, err)
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	pe := &cloud.ProviderError{
		Provider:   c.provider,
		Op:         method + " " + url,
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfterHint(resp),
		Message:    string(errBody),
		Err:        cloud.Classify(resp.StatusCode, errBody),
	}

	return nil, pe
}

// DoJSON executes a request with an optional JSON body and decodes the
// JSON response into out (skipped when out is nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("rest: encoding request body: %w", err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		// Drain so the connection can be reused.
		_, copyErr := io.Copy(io.Discard, resp.Body)
		return copyErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decoding response: %w", err)
	}

	return nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url, tok string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// networkError journals and wraps a connection-level failure.
func (c *Client) networkError(ctx context.Context, method, url string, err error) error {
	msg := fmt.Sprintf("%s %s: %v", method, url, err)
	if recErr := c.recorder.Record(ctx, logsink.CategoryNetwork, string(c.provider), msg); recErr != nil {
		c.logger.Warn("journal write failed", slog.String("error", recErr.Error()))
	}

	return &cloud.ProviderError{
		Provider: c.provider,
		Op:       method + " " + url,
		Message:  err.Error(),
		Err:      cloud.ErrNetwork,
	}
}

// retryAfterHint parses the Retry-After header of throttled responses.
func retryAfterHint(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusForbidden {
		return 0
	}

	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// rewindable reports whether the request body can be replayed for a retry.
func rewindable(body io.Reader) bool {
	if body == nil {
		return true
	}

	_, ok := body.(io.Seeker)

	return ok
}

// timeSleep waits for the given duration or until the context is
// canceled. Default sleepFunc for Client.
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

func rewind(body io.Reader) error {
	if body == nil {
		return nil
	}

	seeker, ok := body.(io.Seeker)
	if !ok {
		return nil
	}

	_, err := seeker.Seek(0, io.SeekStart)

	return err
}
