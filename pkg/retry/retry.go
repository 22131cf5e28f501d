// Package retry implements the fixed-delay resilience loop wrapped around each
// provider attempt.
//
// An attempt reports an [Outcome]: success, a retryable failure, or a fatal
// failure. [Runner.Run] walks the state machine
//
//	Attempting(1) → … → Attempting(MaxAttempts)
//	        ↓ success        ↓ fatal          ↓ retryable on the last attempt
//	    Succeeded        FailedFatal        FailedExhausted
//
// sleeping a constant delay between attempts. Cancelling the context aborts the
// in-flight attempt and any pending delay and ends in Canceled.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/germanamz/consult/pkg/failure"
)

const (
	MaxAttempts  = 3
	DefaultDelay = 2 * time.Second
)

// State is a state of the retry loop.
type State int

const (
	Attempting State = iota
	Succeeded
	FailedFatal
	FailedExhausted
	Canceled
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case FailedFatal:
		return "failed_fatal"
	case FailedExhausted:
		return "failed_exhausted"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Outcome is the result of a single attempt.
type Outcome struct {
	Text  string
	Err   error
	Fatal bool
}

// Success returns a successful outcome.
func Success(text string) Outcome { return Outcome{Text: text} }

// Retryable returns a failed outcome that another attempt may fix.
func Retryable(err error) Outcome { return Outcome{Err: err} }

// Fatal returns a failed outcome that must end the loop.
func Fatal(err error) Outcome { return Outcome{Err: err, Fatal: true} }

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Classify converts a builder result into an Outcome. Errors that carry no
// classification are retryable.
func Classify(text string, err error) Outcome {
	switch {
	case err == nil:
		return Success(text)
	case failure.IsFatal(err):
		return Fatal(err)
	default:
		return Retryable(err)
	}
}

// AttemptFunc runs attempt number n (1-based).
type AttemptFunc func(ctx context.Context, n int) Outcome

// Opts configures a Runner.
type Opts struct {
	MaxAttempts int           // Total attempts (default MaxAttempts).
	Delay       time.Duration // Constant delay between attempts (default DefaultDelay).
	Logger      *slog.Logger  // Diagnostics sink; nil discards.
}

// Runner owns the retry policy. It holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	maxAttempts int
	delay       time.Duration
	log         *slog.Logger

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a Runner. Zero fields in opts take their defaults; a negative
// Delay disables the pause between attempts.
func New(opts Opts) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		maxAttempts: opts.MaxAttempts,
		delay:       opts.Delay,
		log:         opts.Logger,
		sleepFunc:   contextSleep,
	}
}

// SetSleepFunc overrides the sleep function (for testing).
func (r *Runner) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// Delay returns the pause between attempts.
func (r *Runner) Delay() time.Duration { return r.delay }

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result describes how a Run ended.
type Result struct {
	Text     string
	State    State
	Attempts int
	Err      error
}

// Run executes attempt until it succeeds, fails fatally, the attempt budget is
// spent, or ctx is cancelled. label names the call in log records.
//
// Exhaustion yields an ExhaustedRetries *failure.Error wrapping the last
// cause; cancellation yields a Canceled *failure.Error wrapping ctx.Err().
func (r *Runner) Run(ctx context.Context, label string, attempt AttemptFunc) Result {
	log := r.log.With("call", label)

	var last error
	for n := 1; n <= r.maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return r.canceled(ctx, log, n-1, err)
		}

		log.DebugContext(ctx, "attempt started", "attempt", n, "max_attempts", r.maxAttempts)

		start := time.Now()
		out := attempt(ctx, n)
		duration := time.Since(start)

		if out.OK() {
			log.InfoContext(ctx, "attempt succeeded", "attempt", n, "duration", duration)
			return Result{Text: out.Text, State: Succeeded, Attempts: n}
		}

		// A failure caused by the caller's cancellation is not a provider failure.
		if err := ctx.Err(); err != nil {
			return r.canceled(ctx, log, n, err)
		}

		if out.Fatal {
			log.ErrorContext(ctx, "attempt failed, not retrying",
				"attempt", n,
				"kind", failure.KindOf(out.Err).String(),
				"error", out.Err,
			)
			return Result{State: FailedFatal, Attempts: n, Err: out.Err}
		}

		last = out.Err

		attrs := []any{
			"attempt", n,
			"max_attempts", r.maxAttempts,
			"kind", failure.KindOf(out.Err).String(),
			"duration", duration,
			"error", out.Err,
		}

		var fe *failure.Error
		if errors.As(out.Err, &fe) && fe.RetryAfter > 0 {
			attrs = append(attrs, "retry_after_hint", fe.RetryAfter)
		}

		if n == r.maxAttempts {
			log.ErrorContext(ctx, "attempt failed, retries exhausted", attrs...)
			break
		}

		log.WarnContext(ctx, "attempt failed, retrying", append(attrs, "delay", r.delay)...)

		if err := r.sleepFunc(ctx, r.delay); err != nil {
			return r.canceled(ctx, log, n, err)
		}
	}

	return Result{
		State:    FailedExhausted,
		Attempts: r.maxAttempts,
		Err: &failure.Error{
			Kind:     failure.ExhaustedRetries,
			Attempts: r.maxAttempts,
			Err:      last,
		},
	}
}

func (r *Runner) canceled(ctx context.Context, log *slog.Logger, attempts int, cause error) Result {
	log.WarnContext(ctx, "call canceled", "attempts", attempts, "error", cause)

	return Result{
		State:    Canceled,
		Attempts: attempts,
		Err:      &failure.Error{Kind: failure.Canceled, Attempts: attempts, Err: cause},
	}
}
