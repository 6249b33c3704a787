package service

import (
	"context"
	"errors"
	"sync/atomic"

	"everyday/internal/observability"

	"github.com/redis/go-redis/v9"
)

// VisitsKey holds the shared page-visit counter.
const VisitsKey = "visits:count"

// VisitService counts page visits in Redis, or in process memory when no
// Redis client is configured. A Redis fault falls back to the local counter
// for that call.
type VisitService struct {
	rdb   *redis.Client
	local atomic.Int64
}

func NewVisitService(rdb *redis.Client) *VisitService {
	return &VisitService{rdb: rdb}
}

// Count returns the current number of visits.
func (s *VisitService) Count(ctx context.Context) (int64, error) {
	if s.rdb == nil {
		return s.local.Load(), nil
	}
	n, err := s.rdb.Get(ctx, VisitsKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		observability.LogDegraded(ctx, "visits_local_fallback", err, nil)
		return s.local.Load(), nil
	}
	return n, nil
}

// Increment records one visit and returns the new count.
func (s *VisitService) Increment(ctx context.Context) (int64, error) {
	if s.rdb == nil {
		return s.local.Add(1), nil
	}
	n, err := s.rdb.Incr(ctx, VisitsKey).Result()
	if err != nil {
		observability.LogDegraded(ctx, "visits_local_fallback", err, nil)
		return s.local.Add(1), nil
	}
	return n, nil
}
