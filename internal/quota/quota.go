// Package quota enforces the daily creation quota: a per-client cap and a
// global cap that share one window keyed by a fixed-zone calendar date.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"everyday/internal/observability"
)

// Reason explains a denial.
type Reason string

const (
	// ReasonGlobal means every client together used up the daily cap.
	ReasonGlobal Reason = "global_limit"
	// ReasonClient means this client used up its own daily cap.
	ReasonClient Reason = "ip_limit"
)

// FailPolicy defines the behavior when the window store is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if the store is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed rejects the request if the store is unavailable.
	FailClosed
)

// ParseFailPolicy maps "open" / "closed" to a policy. Anything else is FailOpen.
func ParseFailPolicy(s string) FailPolicy {
	if s == "closed" {
		return FailClosed
	}
	return FailOpen
}

// ErrUnavailable is returned by a FailClosed limiter when the store faults.
var ErrUnavailable = errors.New("quota store unavailable")

// Limits are the daily caps.
type Limits struct {
	PerClientDaily int
	GlobalDaily    int
}

// Decision is the outcome of one check-and-consume.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Degraded is set when the store faulted and the fail-open policy let the
	// request through without consuming a slot.
	Degraded bool
}

// Store performs the atomic reset-if-stale, check and increment against
// shared window state.
type Store interface {
	CheckAndConsume(ctx context.Context, clientID, windowDate string, limits Limits) (Decision, error)
	Release(ctx context.Context, clientID, windowDate string) error
}

// Limiter applies the fail policy and window computation on top of a Store.
type Limiter struct {
	store  Store
	limits Limits
	policy FailPolicy
	loc    *time.Location
	logger *slog.Logger
}

// NewLimiter builds a limiter whose windows are calendar days in loc.
func NewLimiter(store Store, limits Limits, policy FailPolicy, loc *time.Location, logger *slog.Logger) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limits: limits, policy: policy, loc: loc, logger: logger}
}

// WindowDate returns the window key (YYYY-MM-DD) for t in the limiter's zone.
func (l *Limiter) WindowDate(t time.Time) string {
	return t.In(l.loc).Format(time.DateOnly)
}

// CheckAndConsume asks the store for a slot in windowDate. Store faults are
// absorbed under FailOpen and surfaced as ErrUnavailable under FailClosed.
func (l *Limiter) CheckAndConsume(ctx context.Context, clientID, windowDate string) (Decision, error) {
	decision, err := l.store.CheckAndConsume(ctx, clientID, windowDate, l.limits)
	if err != nil {
		observability.QuotaDecisions.WithLabelValues("store_error").Inc()
		if l.policy == FailClosed {
			l.logger.ErrorContext(ctx, "quota store unavailable, rejecting",
				slog.String("event", "quota_fail_closed"),
				slog.String("window", windowDate),
				slog.String("error", err.Error()),
			)
			return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		l.logger.WarnContext(ctx, "quota store unavailable, allowing request",
			slog.String("event", "quota_fail_open"),
			slog.String("window", windowDate),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true, Degraded: true}, nil
	}

	if decision.Allowed {
		observability.QuotaDecisions.WithLabelValues("allowed").Inc()
	} else {
		observability.QuotaDecisions.WithLabelValues(string(decision.Reason)).Inc()
	}
	return decision, nil
}

// Release hands a consumed slot back, used when creation fails after the
// quota was charged. Failures are logged and otherwise ignored.
func (l *Limiter) Release(ctx context.Context, clientID, windowDate string) {
	if err := l.store.Release(ctx, clientID, windowDate); err != nil {
		l.logger.WarnContext(ctx, "failed to release quota slot",
			slog.String("event", "quota_release_failed"),
			slog.String("window", windowDate),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.QuotaDecisions.WithLabelValues("released").Inc()
}
