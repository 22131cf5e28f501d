// Package query defines the normalized, provider-agnostic request accepted by
// the dispatcher.
package query

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/germanamz/consult/pkg/failure"
)

// Provider identifies a supported LLM backend.
type Provider string

const (
	Ollama Provider = "ollama"
	Groq   Provider = "groq"
	OpenAI Provider = "openai"
)

// Providers lists the supported providers in a stable order.
var Providers = []Provider{Ollama, Groq, OpenAI}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case Ollama, Groq, OpenAI:
		return true
	}
	return false
}

// String returns the underlying string value of the provider.
func (p Provider) String() string {
	return string(p)
}

// ParseProvider converts s to a Provider. Surrounding space and case are
// ignored. Unknown names yield an UnsupportedProvider failure.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", unsupported(s)
	}
	return p, nil
}

const (
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

// Query is a single request. It is read-only once handed to the dispatcher.
// Build it with New to get the default temperature and timeout; a zero
// Timeout is treated as DefaultTimeout.
type Query struct {
	Prompt      string
	Provider    Provider
	Model       string        // Empty means the provider's default model.
	Temperature float64       // Sampling temperature.
	Credential  string        // API key; required by groq and openai.
	BaseURL     string        // Only used by ollama.
	ImagePath   string        // Optional local image for multimodal requests.
	Timeout     time.Duration // Per attempt.
}

// Option configures a Query.
type Option func(*Query)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(q *Query) { q.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(q *Query) { q.Temperature = t }
}

// WithCredential sets the API key.
func WithCredential(key string) Option {
	return func(q *Query) { q.Credential = key }
}

// WithBaseURL sets the ollama base URL.
func WithBaseURL(url string) Option {
	return func(q *Query) { q.BaseURL = url }
}

// WithImage attaches a local image file.
func WithImage(path string) Option {
	return func(q *Query) { q.ImagePath = path }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(q *Query) { q.Timeout = d }
}

// New builds a Query with defaults applied before opts.
func New(prompt string, provider Provider, opts ...Option) Query {
	q := Query{
		Prompt:      prompt,
		Provider:    provider,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
	}

	for _, opt := range opts {
		opt(&q)
	}

	return q
}

// Validate checks caller input. All failures it returns are fatal.
func (q Query) Validate() error {
	if !q.Provider.Valid() {
		return unsupported(string(q.Provider))
	}

	if strings.TrimSpace(q.Prompt) == "" {
		return &failure.Error{Kind: failure.InvalidQuery, Provider: q.Provider.String(), Msg: "prompt is required"}
	}

	if math.IsNaN(q.Temperature) || math.IsInf(q.Temperature, 0) || q.Temperature < 0 {
		return &failure.Error{
			Kind:     failure.InvalidQuery,
			Provider: q.Provider.String(),
			Msg:      fmt.Sprintf("temperature must be a finite non-negative number, got %v", q.Temperature),
		}
	}

	if q.Timeout < 0 {
		return &failure.Error{
			Kind:     failure.InvalidQuery,
			Provider: q.Provider.String(),
			Msg:      fmt.Sprintf("timeout must be non-negative, got %s", q.Timeout),
		}
	}

	return nil
}

// EffectiveTimeout returns the per-attempt timeout.
func (q Query) EffectiveTimeout() time.Duration {
	if q.Timeout <= 0 {
		return DefaultTimeout
	}
	return q.Timeout
}

// ModelOr returns the caller's model, or def when none was given.
func (q Query) ModelOr(def string) string {
	if q.Model != "" {
		return q.Model
	}
	return def
}

// HasImage reports whether an image is attached.
func (q Query) HasImage() bool {
	return q.ImagePath != ""
}

// LogValue implements slog.LogValuer. The credential is never logged.
func (q Query) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("provider", q.Provider.String()),
		slog.Float64("temperature", q.Temperature),
		slog.Duration("timeout", q.EffectiveTimeout()),
		slog.Bool("credential", q.Credential != ""),
	}

	if q.Model != "" {
		attrs = append(attrs, slog.String("model", q.Model))
	}

	if q.ImagePath != "" {
		attrs = append(attrs, slog.String("image", q.ImagePath))
	}

	return slog.GroupValue(attrs...)
}

func unsupported(name string) error {
	return failure.New(failure.UnsupportedProvider,
		"provider %q is not supported (use %s, %s or %s)", name, Ollama, Groq, OpenAI)
}
