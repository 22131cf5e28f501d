// Package ollama implements the modeladapter.Completer interface for a local
// Ollama server using the /api/generate endpoint.
package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/germanamz/consult/pkg/content"
	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/modeladapter"
	"github.com/germanamz/consult/pkg/query"
)

const (
	// DefaultBaseURL is where a local Ollama server listens.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultModel is used when the query names no model.
	DefaultModel = "llama3"

	generatePath = "/api/generate"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter sends single-shot generate requests to Ollama.
type Adapter struct {
	BaseURL string            // Used when the query has no base URL; defaults to DefaultBaseURL.
	Client  *http.Client      // HTTP client; nil falls back to http.DefaultClient.
	Headers map[string]string // Extra headers applied to every request.
	Logger  *slog.Logger      // Diagnostics sink; nil discards.
}

// New creates an Adapter for the default local endpoint.
// A nil client falls back to http.DefaultClient.
func New(client *http.Client) *Adapter {
	return &Adapter{BaseURL: DefaultBaseURL, Client: client}
}

// Complete performs one generate call and returns the trimmed response text.
//
// The query's base URL wins over the adapter's. A credential, when present, is
// sent as a bearer token for servers behind an authenticating proxy. A
// missing image file is a fatal ImageNotFound failure; a reply without a
// "response" field is a retryable MalformedResponse.
func (a *Adapter) Complete(ctx context.Context, q query.Query) (string, error) {
	req := generateRequest{
		Model:       q.ModelOr(DefaultModel),
		Prompt:      q.Prompt,
		Temperature: q.Temperature,
		Stream:      false,
	}

	if q.HasImage() {
		img, err := content.LoadImage(q.ImagePath)
		if err != nil {
			return "", err
		}

		req.Images = []string{img.Base64()}
		a.logger().DebugContext(ctx, "image attached", "image", img.Path, "bytes", len(img.Data))
	}

	ma := modeladapter.New(a.baseURL(q), modeladapter.Auth{Key: q.Credential}, a.Client)
	ma.Headers = a.Headers
	ma.Timeout = q.EffectiveTimeout()

	var resp generateResponse
	if err := ma.PostJSON(ctx, generatePath, req, &resp); err != nil {
		return "", err
	}

	if resp.Response == nil {
		msg := resp.Error
		if msg == "" {
			msg = `reply has no "response" field`
		}
		return "", failure.New(failure.MalformedResponse, "%s", msg)
	}

	return strings.TrimSpace(*resp.Response), nil
}

func (a *Adapter) baseURL(q query.Query) string {
	base := q.BaseURL
	if base == "" {
		base = a.BaseURL
	}
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/")
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// API request/response types.

type generateRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	Stream      bool     `json:"stream"`
	Images      []string `json:"images,omitempty"`
}

type generateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
	Error    string  `json:"error"`
}
