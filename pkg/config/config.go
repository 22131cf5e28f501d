// Package config loads consult settings from a YAML file and the environment
// and turns them into queries and client options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/consult/pkg/consult"
	"github.com/germanamz/consult/pkg/query"
)

// Environment variables consulted when the file leaves a value empty.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvGroqKey       = "GROQ_API_KEY"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvImage         = "CONSULT_IMAGE"
)

// Config is the top-level consult configuration.
type Config struct {
	Provider    string                    `yaml:"provider"`    // Default provider, or a comma list for fan-out.
	Temperature *float64                  `yaml:"temperature"` // nil means query.DefaultTemperature.
	Timeout     string                    `yaml:"timeout"`     // Per-attempt timeout as a duration string (e.g. "30s").
	RetryDelay  string                    `yaml:"retry_delay"` // Pause between attempts (default "2s").
	Image       string                    `yaml:"image"`       // Image attached to every query.
	LogLevel    string                    `yaml:"log_level"`   // debug, info, warn or error.
	Providers   map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for one backend.
type ProviderConfig struct {
	APIKey  string            `yaml:"api_key"`  //nolint:gosec // configuration field, not a hardcoded secret
	BaseURL string            `yaml:"base_url"` // Ollama server; for groq and openai it replaces the fixed API endpoint.
	Model   string            `yaml:"model"`
	Headers map[string]string `yaml:"headers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Provider: query.Ollama.String(),
		LogLevel: "warn",
	}
}

// Load reads a YAML file and returns a Config layered over Default.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML data the same way Load does.
func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	return cfg, nil
}

// ApplyEnv fills empty credentials, the ollama base URL and the image from
// the environment. Values already set are left alone.
func (c *Config) ApplyEnv() {
	fill := func(name string, set func(ProviderConfig, string) ProviderConfig, env string) {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			return
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		c.Providers[name] = set(c.Providers[name], v)
	}

	fill(query.OpenAI.String(), func(p ProviderConfig, v string) ProviderConfig {
		if p.APIKey == "" {
			p.APIKey = v
		}
		return p
	}, EnvOpenAIKey)

	fill(query.Groq.String(), func(p ProviderConfig, v string) ProviderConfig {
		if p.APIKey == "" {
			p.APIKey = v
		}
		return p
	}, EnvGroqKey)

	fill(query.Ollama.String(), func(p ProviderConfig, v string) ProviderConfig {
		if p.BaseURL == "" {
			p.BaseURL = v
		}
		return p
	}, EnvOllamaBaseURL)

	if c.Image == "" {
		c.Image = os.Getenv(EnvImage)
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if _, err := c.Targets(); err != nil {
		return err
	}

	for name := range c.Providers {
		if _, err := query.ParseProvider(name); err != nil {
			return fmt.Errorf("config: providers: %w", err)
		}
	}

	if c.Temperature != nil && (math.IsNaN(*c.Temperature) || math.IsInf(*c.Temperature, 0) || *c.Temperature < 0) {
		return fmt.Errorf("config: temperature must be a finite non-negative number, got %v", *c.Temperature)
	}

	if _, err := c.timeout(); err != nil {
		return err
	}

	if _, err := c.retryDelay(); err != nil {
		return err
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// Targets parses Provider into the list of providers to query. More than one
// entry means fan-out.
func (c Config) Targets() ([]query.Provider, error) {
	var out []query.Provider
	seen := make(map[query.Provider]struct{})

	for _, name := range strings.Split(c.Provider, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}

		p, err := query.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("config: provider: %w", err)
		}

		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, errors.New("config: at least one provider is required")
	}

	return out, nil
}

// Query builds the query for prompt addressed to p.
func (c Config) Query(prompt string, p query.Provider) (query.Query, error) {
	timeout, err := c.timeout()
	if err != nil {
		return query.Query{}, err
	}

	pc := c.Providers[p.String()]

	opts := []query.Option{
		query.WithModel(pc.Model),
		query.WithCredential(pc.APIKey),
		query.WithImage(c.Image),
	}

	if c.Temperature != nil {
		opts = append(opts, query.WithTemperature(*c.Temperature))
	}

	if timeout > 0 {
		opts = append(opts, query.WithTimeout(timeout))
	}

	return query.New(prompt, p, opts...), nil
}

// ClientOptions converts the provider settings into consult options. The
// logger is passed through as-is.
func (c Config) ClientOptions(logger *slog.Logger) ([]consult.Option, error) {
	delay, err := c.retryDelay()
	if err != nil {
		return nil, err
	}

	opts := []consult.Option{consult.WithRetryDelay(delay)}

	if logger != nil {
		opts = append(opts, consult.WithLogger(logger))
	}

	for name, pc := range c.Providers {
		p, err := query.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("config: providers: %w", err)
		}

		if pc.BaseURL != "" {
			opts = append(opts, consult.WithEndpoint(p, pc.BaseURL))
		}

		if len(pc.Headers) > 0 {
			opts = append(opts, consult.WithHeaders(p, pc.Headers))
		}
	}

	return opts, nil
}

// SlogLevel parses LogLevel. An empty value means warn.
func (c Config) SlogLevel() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}

	return lvl, nil
}

func (c Config) timeout() (time.Duration, error) {
	return parseDuration("timeout", c.Timeout)
}

// retryDelay returns zero when unset, which the retry loop reads as its default.
func (c Config) retryDelay() (time.Duration, error) {
	return parseDuration("retry_delay", c.RetryDelay)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("config: %s must be non-negative, got %s", field, d)
	}

	return d, nil
}
