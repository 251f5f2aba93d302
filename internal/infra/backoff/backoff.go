// Package backoff runs fallible operations with exponentially growing delays.
//
// The runner knows only success, failure and timing. Callers decide which
// errors are fatal through a Classifier or by wrapping them with Permanent.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/biomes-client/internal/metrics"
)

// Policy defines retry timing and the attempt budget.
type Policy struct {
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	Exponent    float64       `yaml:"exponent" env:"EXPONENT"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// DefaultPolicy is the profile-fetch policy: 1s, 1.25s, 1.563s, ... capped at 10s.
var DefaultPolicy = Policy{
	BaseDelay:   1 * time.Second,
	Exponent:    1.25,
	MaxDelay:    10 * time.Second,
	MaxAttempts: 5,
}

// Delay returns min(BaseDelay * Exponent^attempt, MaxDelay) rounded to the
// nearest millisecond. attempt is 0-indexed.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := p.Exponent
	if exp <= 0 {
		exp = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(exp, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay).Round(time.Millisecond)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Action determines how the runner handles a failed attempt.
type Action int

const (
	ActionRetry Action = iota
	ActionFatal
)

// Classifier maps an error to an Action.
type Classifier func(err error) Action

// RetryAll treats every error as retryable.
func RetryAll(error) Action { return ActionRetry }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as fatal regardless of the classifier. The runner
// returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type runConfig struct {
	name       string
	logger     *slog.Logger
	classifier Classifier
}

// Option configures a single Run.
type Option func(*runConfig)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClassifier sets the error classifier. The default retries everything.
func WithClassifier(fn Classifier) Option {
	return func(c *runConfig) {
		if fn != nil {
			c.classifier = fn
		}
	}
}

// WithName labels logs and metrics for the operation.
func WithName(name string) Option {
	return func(c *runConfig) { c.name = name }
}

// Run invokes op until it succeeds, fails fatally or runs out of attempts.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg := runConfig{
		name:       "operation",
		logger:     slog.Default(),
		classifier: RetryAll,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	maxAttempts := p.attempts()
	attempt := 0
	var next time.Duration

	// The delay is decided inside the attempt so it can be logged before the
	// sleep; the backoff only hands it to go-retry.
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		return next, false
	})

	return retry.DoValue(ctx, b, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		n := attempt
		attempt++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, ctxErr
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return v, perm.err
		}
		if cfg.classifier(err) == ActionFatal {
			return v, err
		}
		if attempt >= maxAttempts {
			return v, &ExhaustedError{Attempts: attempt, Err: err}
		}

		next = p.Delay(n)
		cfg.logger.Warn("attempt failed, retrying",
			"operation", cfg.name,
			"attempt", n,
			"delay", next,
			"error", err,
		)
		metrics.BackoffRetries.WithLabelValues(cfg.name).Inc()
		return v, retry.RetryableError(err)
	})
}
