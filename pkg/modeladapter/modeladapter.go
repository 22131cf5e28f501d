package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/query"
)

// Completer executes a single attempt of a query against one provider:
// build the request, send it, and parse the provider's answer.
//
// Implementations return a *failure.Error whose kind tells the retry loop
// whether another attempt can help. They must not keep per-call state, so a
// single Completer can serve concurrent calls.
type Completer interface {
	Complete(ctx context.Context, q query.Query) (string, error)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, q query.Query) (string, error)

// Complete calls the underlying function.
func (f CompleterFunc) Complete(ctx context.Context, q query.Query) (string, error) {
	return f(ctx, q)
}

// Auth holds the credential for an LLM provider API. A non-blank Key is sent
// as "Authorization: Bearer <key>".
type Auth struct {
	Key string
}

// ModelAdapter holds the HTTP plumbing for one attempt. Builders create one
// per call from the query, so nothing here is shared between calls except the
// http.Client.
type ModelAdapter struct {
	Auth    Auth              // Authentication settings.
	BaseURL string            // API base URL (no trailing slash).
	Client  *http.Client      // HTTP client; falls back to http.DefaultClient.
	Headers map[string]string // Extra headers applied to every request.
	Timeout time.Duration     // Per-attempt deadline for the whole exchange; zero means none.
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to http.DefaultClient at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// httpClient returns the configured client or http.DefaultClient.
func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	return http.DefaultClient
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := a.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(a.Auth.Key); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	// Apply custom headers.
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path, checks
// for a 2xx status, and unmarshals the response body into dest. The whole
// exchange runs under Timeout.
//
// Failures are classified: a failed round trip is a TransportError, a non-2xx
// reply an HTTPStatus error carrying the truncated body, and an undecodable
// body a MalformedResponse. All three are retryable.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure.Wrap(failure.InvalidQuery, err, "marshal payload")
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return failure.Wrap(failure.TransportError, err, "%s %s", req.Method, req.URL.Redacted())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure.Wrap(failure.TransportError, err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fe := failure.Status(resp.StatusCode, string(respBody))
		fe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
		return fe
	}

	if dest == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return failure.Wrap(failure.MalformedResponse, err, "decode response")
	}

	return nil
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
		return 0
	}
	return 0
}
