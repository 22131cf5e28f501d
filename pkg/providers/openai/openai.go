// Package openai provides a Completer implementation for the OpenAI Chat Completions API.
package openai

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
	// DefaultBaseURL is the base URL for the OpenAI API.
	DefaultBaseURL = "https://api.openai.com"
	// DefaultModel is used when the query names no model.
	DefaultModel = "gpt-4o"

	completionsPath = "/v1/chat/completions"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the OpenAI Chat Completions API.
type Adapter struct {
	BaseURL string            // Defaults to DefaultBaseURL (no trailing slash).
	Client  *http.Client      // HTTP client; nil falls back to http.DefaultClient.
	Headers map[string]string // Extra headers applied to every request (e.g. OpenAI-Organization).
	Logger  *slog.Logger      // Diagnostics sink; nil discards.
}

// New creates an Adapter configured for the public OpenAI API.
// A nil client falls back to http.DefaultClient.
func New(client *http.Client) *Adapter {
	return &Adapter{BaseURL: DefaultBaseURL, Client: client}
}

// Complete sends the prompt, and the image if one is attached, as a single
// user message and returns the first choice's trimmed content.
func (a *Adapter) Complete(ctx context.Context, q query.Query) (string, error) {
	if strings.TrimSpace(q.Credential) == "" {
		return "", failure.New(failure.MissingCredential, "an API key is required for openai")
	}

	var img *content.Image
	if q.HasImage() {
		loaded, err := content.LoadImage(q.ImagePath)
		if err != nil {
			return "", err
		}

		img = &loaded
		a.logger().DebugContext(ctx, "image attached",
			"image", loaded.Path,
			"media_type", loaded.MediaType,
			"bytes", len(loaded.Data),
		)
	}

	req := apiRequest{
		Model:       q.ModelOr(DefaultModel),
		Messages:    []apiMessage{buildUserMessage(q.Prompt, img)},
		Temperature: q.Temperature,
	}

	base := a.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	ma := modeladapter.New(strings.TrimRight(base, "/"), modeladapter.Auth{Key: q.Credential}, a.Client)
	ma.Headers = a.Headers
	ma.Timeout = q.EffectiveTimeout()

	var resp apiResponse
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

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
}

// apiMessage.Content is either a plain string or a []apiPart.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Error   *apiError   `json:"error"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// --- conversion helpers ---

// buildUserMessage uses the plain string form for text-only prompts and the
// multi-part form when an image is attached.
func buildUserMessage(prompt string, img *content.Image) apiMessage {
	if img == nil {
		return apiMessage{Role: "user", Content: prompt}
	}

	parts := content.Parts(prompt, img)
	apiParts := make([]apiPart, 0, len(parts))

	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			apiParts = append(apiParts, apiPart{Type: "text", Text: v.Text})
		case content.Image:
			apiParts = append(apiParts, apiPart{
				Type:     "image_url",
				ImageURL: &apiImageURL{URL: v.DataURI()},
			})
		}
	}

	return apiMessage{Role: "user", Content: apiParts}
}
