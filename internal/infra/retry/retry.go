// Package retry runs remote operations with exponential backoff on transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/metrics"
)

// ErrAttemptsExhausted matches every *ExhaustedError.
var ErrAttemptsExhausted = errors.New("maximum retry attempts exceeded")

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration // 0 = no cap
	BackoffMultiple float64

	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger receives one warning per retried failure. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy: 5 attempts, 1s initial delay, doubling, uncapped.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialDelay:    1 * time.Second,
	BackoffMultiple: 2.0,
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrAttemptsExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do invokes op until it succeeds, fails permanently, or MaxAttempts transient
// failures have happened. Permanent errors are returned unchanged. op must be
// safe to repeat.
func Do[T any](
	ctx context.Context,
	p Policy,
	name string,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	p = p.normalized()

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			metrics.RetryOutcomes.WithLabelValues(name, "success").Inc()
			return result, nil
		}

		lastErr = err
		kind := storage.KindOf(err)
		if !kind.Transient() {
			metrics.RetryOutcomes.WithLabelValues(name, "permanent").Inc()
			return zero, err
		}

		if attempt == p.MaxAttempts {
			break
		}

		// A longer server hint wins over the backoff schedule.
		wait := delay
		var se *storage.Error
		if errors.As(err, &se) && se.RetryAfter > wait {
			wait = se.RetryAfter
		}

		p.Logger.Warn("Transient error, retrying",
			"op", name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"kind", kind.String(),
			"delay", wait,
			"error", err,
		)
		metrics.RetryAttempts.WithLabelValues(name, kind.String()).Inc()

		if err := p.Sleep(ctx, wait); err != nil {
			metrics.RetryOutcomes.WithLabelValues(name, "canceled").Inc()
			return zero, err
		}
		delay = nextDelay(delay, p)
	}

	metrics.RetryOutcomes.WithLabelValues(name, "exhausted").Inc()
	return zero, &ExhaustedError{Op: name, Attempts: p.MaxAttempts, Last: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.BackoffMultiple <= 0 {
		p.BackoffMultiple = 2.0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

func nextDelay(current time.Duration, p Policy) time.Duration {
	next := float64(current) * p.BackoffMultiple
	if p.MaxDelay > 0 && next > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if next > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(next)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
