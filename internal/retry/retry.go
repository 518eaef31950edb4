// Package retry runs fallible operations with classified-error-aware
// retries.
//
// Each failed attempt is classified with the classify package. When
// attempts remain, the OnRetry hook runs and the executor waits before the
// next attempt: Delay × 2^(n−1) after the n-th failure with Backoff set,
// otherwise a constant Delay. The wait observes ctx and never blocks other
// goroutines. Once attempts run out the classified error is reported and
// returned.
package retry

import (
	"context"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/metrics"
)

// Options configures a single retried call.
type Options struct {
	// MaxAttempts is the total number of invocations allowed. Values below 1
	// are treated as 1.
	MaxAttempts int

	// Delay is the wait after the first failure.
	Delay time.Duration

	// Backoff doubles the wait after every failure.
	Backoff bool

	// OnRetry is called before each wait with the 1-indexed number of the
	// attempt that just failed.
	OnRetry func(attempt int, err *classify.Error)

	// Retryable decides whether a failure may be retried. Nil retries
	// every kind.
	Retryable func(err *classify.Error) bool

	// Report receives the final classified error. Nil logs it.
	Report func(err *classify.Error)

	// Annotations are copied into the context of every classified error,
	// with attempt and max_attempts. An operation that already returns a
	// *classify.Error gets an annotated copy.
	Annotations map[string]any

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// wait suspends between attempts; tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns 3 attempts with a 1s exponential backoff.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Delay:       time.Second,
		Backoff:     true,
	}
}

// Do invokes op until it succeeds or attempts run out. The returned error
// is always a *classify.Error.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := max(opts.MaxAttempts, 1)
	wait := opts.wait
	if wait == nil {
		wait = sleep
	}
	delays := newBackOff(opts.Delay, opts.Backoff)

	for attempt := 1; ; attempt++ {
		result, failure := invoke(ctx, op)
		if failure == nil {
			return result, nil
		}

		cerr := classify.Classify(failure, annotate(opts.Annotations, attempt, maxAttempts))

		if attempt >= maxAttempts || (opts.Retryable != nil && !opts.Retryable(cerr)) {
			report(opts, logger, cerr, attempt)
			return zero, cerr
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, cerr)
		}
		opts.Metrics.RecordRetry()

		d := delays.NextBackOff()
		logger.Debug("retrying operation",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", d,
			"kind", cerr.Kind(),
			"error", cerr.Message(),
		)

		if err := wait(ctx, d); err != nil {
			cerr := classify.Classify(err, annotate(opts.Annotations, attempt, maxAttempts))
			report(opts, logger, cerr, attempt)
			return zero, cerr
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// invoke calls op and returns its failure, which is either the returned
// error or a recovered panic value.
func invoke[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (result T, failure any) {
	defer func() {
		if r := recover(); r != nil {
			failure = r
		}
	}()
	result, err := op(ctx)
	if err != nil {
		return result, err
	}
	return result, nil
}

func report(opts Options, logger *slog.Logger, err *classify.Error, attempts int) {
	opts.Metrics.RecordRetryExhausted(string(err.Kind()))
	if opts.Report != nil {
		opts.Report(err)
		return
	}
	logger.Error("operation failed",
		"attempts", attempts,
		"kind", err.Kind(),
		"error", err.Message(),
	)
}

func annotate(base map[string]any, attempt, maxAttempts int) map[string]any {
	out := make(map[string]any, len(base)+2)
	maps.Copy(out, base)
	out["attempt"] = attempt
	out["max_attempts"] = maxAttempts
	return out
}

func newBackOff(delay time.Duration, exponential bool) backoff.BackOff {
	if !exponential {
		return backoff.NewConstantBackOff(delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
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
