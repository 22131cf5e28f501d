// Package consult is the single entry point for querying an LLM provider.
//
// A [Client] validates the query, selects the provider's request builder, and
// runs it inside the fixed-delay retry loop from package retry. Failures are
// *failure.Error values; fatal kinds (bad provider, missing key, image
// problems) return at once without touching the network, transient ones are
// retried up to three attempts in total.
//
//	text, err := consult.Consult(ctx, "What is 2+2?", query.Ollama, query.WithModel("llama3"))
package consult

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/modeladapter"
	"github.com/germanamz/consult/pkg/providers/groq"
	"github.com/germanamz/consult/pkg/providers/ollama"
	"github.com/germanamz/consult/pkg/providers/openai"
	"github.com/germanamz/consult/pkg/query"
	"github.com/germanamz/consult/pkg/retry"
)

// promptPreviewWidth bounds the prompt excerpt written to logs.
const promptPreviewWidth = 50

// Client dispatches queries to provider builders. It is immutable after New
// and safe for concurrent use; calls share nothing but the HTTP client.
type Client struct {
	completers map[query.Provider]modeladapter.Completer
	runner     *retry.Runner
	log        *slog.Logger
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	delay      time.Duration
	sleepFunc  func(ctx context.Context, d time.Duration) error
	overrides  map[query.Provider]modeladapter.Completer
	endpoints  map[query.Provider]string
	headers    map[query.Provider]map[string]string
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sets the HTTP client shared by all builders.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the diagnostics sink. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryDelay overrides the constant pause between attempts. A negative
// value disables the pause.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithSleepFunc overrides how the retry loop waits between attempts (for testing).
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleepFunc = fn }
}

// WithCompleter replaces the builder used for p. Only the three supported
// providers can be overridden; the set itself is closed.
func WithCompleter(p query.Provider, c modeladapter.Completer) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[query.Provider]modeladapter.Completer)
		}
		o.overrides[p] = c
	}
}

// WithEndpoint points the builder for p at a different base URL, e.g. a proxy
// or a test server. For ollama this is only the fallback when a query carries
// no base URL of its own.
func WithEndpoint(p query.Provider, baseURL string) Option {
	return func(o *options) {
		if o.endpoints == nil {
			o.endpoints = make(map[query.Provider]string)
		}
		o.endpoints[p] = baseURL
	}
}

// WithHeaders adds headers to every request sent to p.
func WithHeaders(p query.Provider, h map[string]string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[query.Provider]map[string]string)
		}
		o.headers[p] = h
	}
}

// New creates a Client with the default builders for ollama, groq and openai.
func New(opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	runner := retry.New(retry.Opts{Delay: o.delay, Logger: o.logger})
	if o.sleepFunc != nil {
		runner.SetSleepFunc(o.sleepFunc)
	}

	c := &Client{
		completers: defaultCompleters(o),
		runner:     runner,
		log:        o.logger,
	}

	for p, comp := range o.overrides {
		if p.Valid() {
			c.completers[p] = comp
		}
	}

	return c
}

func defaultCompleters(o options) map[query.Provider]modeladapter.Completer {
	ol := ollama.New(o.httpClient)
	ol.Logger = o.logger
	ol.Headers = o.headers[query.Ollama]
	if u := o.endpoints[query.Ollama]; u != "" {
		ol.BaseURL = u
	}

	gq := groq.New(o.httpClient)
	gq.Logger = o.logger
	gq.Headers = o.headers[query.Groq]
	if u := o.endpoints[query.Groq]; u != "" {
		gq.BaseURL = u
	}

	oa := openai.New(o.httpClient)
	oa.Logger = o.logger
	oa.Headers = o.headers[query.OpenAI]
	if u := o.endpoints[query.OpenAI]; u != "" {
		oa.BaseURL = u
	}

	return map[query.Provider]modeladapter.Completer{
		query.Ollama: ol,
		query.Groq:   gq,
		query.OpenAI: oa,
	}
}

// Consult sends q to its provider and returns the trimmed answer.
//
// Unsupported providers and other invalid input fail before any network
// activity. Transient failures are retried with a constant delay; after the
// last attempt the error is an ExhaustedRetries failure wrapping the last
// cause. Cancelling ctx aborts the in-flight attempt and any pending delay.
func (c *Client) Consult(ctx context.Context, q query.Query) (string, error) {
	if err := q.Validate(); err != nil {
		c.log.ErrorContext(ctx, "query rejected", "provider", q.Provider.String(), "error", err)
		return "", err
	}

	completer, ok := c.completers[q.Provider]
	if !ok {
		return "", failure.New(failure.UnsupportedProvider, "no builder registered for %q", q.Provider)
	}

	log := c.log.With("provider", q.Provider.String())
	log.InfoContext(ctx, "consulting",
		"query", q,
		"prompt", runewidth.Truncate(q.Prompt, promptPreviewWidth, "..."),
	)

	res := c.runner.Run(ctx, q.Provider.String(), func(ctx context.Context, _ int) retry.Outcome {
		text, err := completer.Complete(ctx, q)
		if err != nil {
			err = failure.WithProvider(err, q.Provider.String())
		}
		return retry.Classify(text, err)
	})

	if res.Err != nil {
		return "", failure.WithProvider(res.Err, q.Provider.String())
	}

	return res.Text, nil
}

// Result is the answer to one query of a Fanout.
type Result struct {
	Query query.Query
	Text  string
	Err   error
}

// Fanout runs every query concurrently and returns the results in input
// order. Each query has its own retry loop; one query's failure or backoff
// does not delay the others.
func (c *Client) Fanout(ctx context.Context, queries ...query.Query) []Result {
	results := make([]Result, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()

			text, err := c.Consult(ctx, q)
			results[i] = Result{Query: q, Text: text, Err: err}
		}()
	}
	wg.Wait()

	return results
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide client used by Consult.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = New()
	})
	return defaultClient
}

// Consult builds a query from prompt, provider and opts and sends it with the
// default client.
func Consult(ctx context.Context, prompt string, provider query.Provider, opts ...query.Option) (string, error) {
	return Default().Consult(ctx, query.New(prompt, provider, opts...))
}

