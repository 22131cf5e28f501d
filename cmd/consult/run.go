package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/germanamz/consult/cmd/consult/internal/progress"
	"github.com/germanamz/consult/cmd/consult/internal/styles"
	"github.com/germanamz/consult/pkg/config"
	"github.com/germanamz/consult/pkg/consult"
	"github.com/germanamz/consult/pkg/query"
)

// errSomeFailed is returned when at least one fan-out query failed. The
// individual errors have already been printed.
var errSomeFailed = errors.New("one or more providers failed")

// run resolves configuration, sends the prompt and prints the answers.
func run(ctx context.Context, o cliOptions, t terminal) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(t.stderr, &slog.HandlerOptions{Level: level}))

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	prompt, err := readPrompt(o, t)
	if err != nil {
		return err
	}

	queries := make([]query.Query, 0, len(targets))
	for _, p := range targets {
		q, err := cfg.Query(prompt, p)
		if err != nil {
			return err
		}
		queries = append(queries, q)
	}

	clientOpts, err := cfg.ClientOptions(logger)
	if err != nil {
		return err
	}
	client := consult.New(clientOpts...)

	var results []consult.Result
	ask := func(ctx context.Context) error {
		results = client.Fanout(ctx, queries...)
		return nil
	}

	if t.stderrTTY {
		_ = progress.Run(ctx, t.stderr, waitingTitle(targets), ask)
	} else {
		_ = ask(ctx)
	}

	r := newRenderer(t.stdoutTTY && !o.raw)

	if len(results) == 1 {
		if results[0].Err != nil {
			return results[0].Err
		}
		fmt.Fprint(t.stdout, r.answer(results[0].Text))
		return nil
	}

	return printFanout(t, r, results)
}

func loadConfig(o cliOptions) (config.Config, error) {
	cfg := config.Default()

	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv()

	if err := o.apply(&cfg); err != nil {
		return config.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// printFanout writes every answer under a provider header and every failure
// to stderr.
func printFanout(t terminal, r renderer, results []consult.Result) error {
	failed := false

	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(t.stdout)
		}

		if res.Err != nil {
			failed = true
			fmt.Fprintln(t.stderr, renderError(res.Err))
			continue
		}

		fmt.Fprintln(t.stdout, header(res.Query))
		fmt.Fprint(t.stdout, r.answer(res.Text))
	}

	if failed {
		return errSomeFailed
	}

	return nil
}

func waitingTitle(targets []query.Provider) string {
	names := make([]string, len(targets))
	for i, p := range targets {
		names[i] = p.String()
	}
	return "asking " + styles.HeaderStyle.Render(strings.Join(names, ", ")) + "..."
}
