// Package upstream applies a uniform timeout, retry and failure policy to
// calls against external services.
//
// Each dependency is configured with a Policy. FailFast surfaces the final
// error as an ErrCodeUpstream structured error. Degrade logs it and returns
// the caller's fallback value instead.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Policy decides what a failed upstream call does to the request.
type Policy string

const (
	// FailFast fails the request when the dependency fails.
	FailFast Policy = "fail-fast"
	// Degrade substitutes a fallback value when the dependency fails.
	Degrade Policy = "degrade"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case FailFast:
		return FailFast, nil
	case Degrade:
		return Degrade, nil
	default:
		return "", fmt.Errorf("unknown upstream policy %q (want %q or %q)", s, FailFast, Degrade)
	}
}

const (
	defaultTimeout   = 30 * time.Second
	defaultRetryWait = 200 * time.Millisecond
)

// Options configures calls to one dependency.
type Options struct {
	// Name labels logs and metrics, e.g. "nutrition".
	Name   string
	Policy Policy
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of additional attempts after a retryable failure.
	Retries uint64
	// RetryWait is the initial backoff between attempts.
	RetryWait time.Duration
}

var (
	upstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodai_upstream_calls_total",
			Help: "Total number of upstream calls by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodai_upstream_call_duration_seconds",
			Help:    "Upstream call latency in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

// StatusError reports a non-success HTTP response from an upstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// Retryable reports whether err is worth another attempt: server errors,
// throttling and transport failures are; client errors and cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Call runs fn under opts. Each attempt gets its own timeout derived from ctx.
// Retryable failures are retried up to opts.Retries times with exponential
// backoff. When every attempt fails, the policy decides between returning
// fallback with a nil error (Degrade) or an ErrCodeUpstream error (FailFast).
func Call[T any](ctx context.Context, opts Options, fallback T, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		upstreamDuration.WithLabelValues(opts.Name).Observe(time.Since(start).Seconds())
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var result T
	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := fn(attemptCtx)
		if err != nil {
			if !Retryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying upstream call",
			"service", opts.Name,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, newBackOff(ctx, opts), notify)
	if err == nil {
		upstreamCalls.WithLabelValues(opts.Name, "success").Inc()
		return result, nil
	}

	if opts.Policy == Degrade {
		upstreamCalls.WithLabelValues(opts.Name, "degraded").Inc()
		slog.Warn("upstream call failed, using fallback",
			"service", opts.Name,
			"attempts", attempt,
			"error", err,
		)
		return fallback, nil
	}

	upstreamCalls.WithLabelValues(opts.Name, "failed").Inc()
	var zero T
	return zero, apperrors.WrapWithContext(apperrors.ErrCodeUpstream,
		fmt.Sprintf("%s service unavailable", opts.Name), err,
		map[string]any{
			"service":  opts.Name,
			"attempts": attempt,
		})
}

func newBackOff(ctx context.Context, opts Options) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryWait
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultRetryWait
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, opts.Retries), ctx)
}
