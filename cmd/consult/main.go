// Consult sends one prompt to one or more LLM providers and prints the answers.
//
// Settings come from an optional YAML file, the environment (a .env file is
// loaded first when present) and flags, in increasing order of precedence.
// With a comma-separated -provider list every provider is queried in parallel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/germanamz/consult/pkg/config"
	"github.com/germanamz/consult/pkg/query"
)

// cliOptions is the parsed command line.
type cliOptions struct {
	configPath  string
	envFile     string
	provider    string
	model       string
	temperature float64
	apiKey      string
	baseURL     string
	image       string
	timeout     time.Duration
	logLevel    string
	raw         bool
	prompt      string

	set map[string]bool // Flags given explicitly.
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	if err := loadDotEnv(opts.envFile); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, newTerminal()); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		cancel()
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (cliOptions, error) {
	fs := flag.NewFlagSet("consult", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: consult [flags] [prompt...]\n\nWith no prompt arguments the prompt is read from stdin, or asked for interactively on a terminal.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	var o cliOptions
	fs.StringVar(&o.configPath, "config", "", "path to YAML configuration file")
	fs.StringVar(&o.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&o.provider, "provider", "", "provider to query: ollama, groq or openai (comma-separated list to query several in parallel)")
	fs.StringVar(&o.model, "model", "", "model name (default: provider default)")
	fs.Float64Var(&o.temperature, "temperature", query.DefaultTemperature, "sampling temperature")
	fs.StringVar(&o.apiKey, "api-key", "", "API key (default: "+config.EnvGroqKey+" or "+config.EnvOpenAIKey+")")
	fs.StringVar(&o.baseURL, "base-url", "", "ollama server URL; for groq and openai this replaces their fixed API endpoint (e.g. a proxy)")
	fs.StringVar(&o.image, "image", "", "path to an image to attach (ignored by groq)")
	fs.DurationVar(&o.timeout, "timeout", query.DefaultTimeout, "per-attempt timeout")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&o.raw, "raw", false, "print answers as plain text instead of rendered markdown")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	o.prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))

	return o, nil
}

// apply layers explicitly given flags over cfg. Per-provider flags apply to
// every provider being queried.
func (o cliOptions) apply(cfg *config.Config) error {
	if o.set["provider"] {
		cfg.Provider = o.provider
	}
	if o.set["temperature"] {
		t := o.temperature
		cfg.Temperature = &t
	}
	if o.set["timeout"] {
		cfg.Timeout = o.timeout.String()
	}
	if o.set["image"] {
		cfg.Image = o.image
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}

	if !o.set["model"] && !o.set["api-key"] && !o.set["base-url"] {
		return nil
	}

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}

	for _, p := range targets {
		pc := cfg.Providers[p.String()]
		if o.set["model"] {
			pc.Model = o.model
		}
		if o.set["api-key"] {
			pc.APIKey = o.apiKey
		}
		if o.set["base-url"] {
			pc.BaseURL = o.baseURL
		}
		cfg.Providers[p.String()] = pc
	}

	return nil
}

// loadDotEnv loads environment variables from path. If the file does not exist
// it is silently ignored so that .env files remain optional.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
