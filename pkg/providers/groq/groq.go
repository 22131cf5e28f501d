// Package groq implements the modeladapter.Completer interface for Groq's
// OpenAI-compatible chat completions API.
//
// Groq is queried with text only. An image attached to the query is dropped
// with a warning on the diagnostics logger; it never causes a failure.
package groq

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/modeladapter"
	"github.com/germanamz/consult/pkg/query"
)

const (
	// DefaultBaseURL is the base URL for the Groq API.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is used when the query names no model.
	DefaultModel = "llama3-8b-8192"

	completionsPath = "/chat/completions"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter sends chat completions to Groq.
type Adapter struct {
	BaseURL string            // Defaults to DefaultBaseURL.
	Client  *http.Client      // HTTP client; nil falls back to http.DefaultClient.
	Headers map[string]string // Extra headers applied to every request.
	Logger  *slog.Logger      // Diagnostics sink; nil discards.
}

// New creates an Adapter for the public Groq endpoint.
// A nil client falls back to http.DefaultClient.
func New(client *http.Client) *Adapter {
	return &Adapter{BaseURL: DefaultBaseURL, Client: client}
}

// Complete sends the prompt as a single user message and returns the first
// choice's trimmed content.
func (a *Adapter) Complete(ctx context.Context, q query.Query) (string, error) {
	if strings.TrimSpace(q.Credential) == "" {
		return "", failure.New(failure.MissingCredential, "an API key is required for groq")
	}

	if q.HasImage() {
		a.logger().WarnContext(ctx, "groq does not accept images, ignoring attachment", "image", q.ImagePath)
	}

	req := chatRequest{
		Model: q.ModelOr(DefaultModel),
		Messages: []apiMessage{
			{Role: "user", Content: q.Prompt},
		},
		Temperature: q.Temperature,
		Stream:      false,
	}

	base := a.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	ma := modeladapter.New(strings.TrimRight(base, "/"), modeladapter.Auth{Key: q.Credential}, a.Client)
	ma.Headers = a.Headers
	ma.Timeout = q.EffectiveTimeout()

	var resp chatResponse
	if err := ma.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		msg := `reply has no "choices"`
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return "", failure.New(failure.MalformedResponse, "%s", msg)
	}

	text := resp.Choices[0].Message.Content
	if text == nil {
		return "", failure.New(failure.MalformedResponse, "first choice has no message content")
	}

	return strings.TrimSpace(*text), nil
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// API request/response types.

type chatRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	Stream      bool         `json:"stream"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Choices []choice  `json:"choices"`
	Error   *apiError `json:"error"`
}

type choice struct {
	Message      respMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type respMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
