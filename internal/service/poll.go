package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"everyday/internal/models"
	"everyday/internal/observability"
	"everyday/internal/repository"
)

// Poll bounds.
const (
	MaxPollAttempts = 100
	MaxPollInterval = 10 * time.Second
)

// PollStatus distinguishes a found post from one still materializing.
type PollStatus string

const (
	PollFound        PollStatus = "found"
	PollStillPending PollStatus = "pending"
)

// PollResult is the outcome of PollForPost.
type PollResult struct {
	Status   PollStatus   `json:"status"`
	Post     *models.Post `json:"post,omitempty"`
	Attempts int          `json:"attempts"`
}

// ClampPoll bounds caller-supplied polling parameters.
func ClampPoll(attempts int, interval time.Duration) (int, time.Duration) {
	attempts = min(max(attempts, 1), MaxPollAttempts)
	interval = min(max(interval, 0), MaxPollInterval)
	return attempts, interval
}

// PollForPost reads the collection directly up to maxAttempts times, waiting
// interval between attempts but never after the last one. Read faults count
// as a pending attempt. It stops early when ctx is done.
func (s *PostService) PollForPost(ctx context.Context, kind models.PostKind, id string, maxAttempts int, interval time.Duration) (PollResult, error) {
	if !kind.Valid() {
		return PollResult{}, models.NewValidationError("Unknown post collection")
	}
	if id == "" {
		return PollResult{}, models.NewValidationError("Post id is required")
	}
	maxAttempts, interval = ClampPoll(maxAttempts, interval)

	observability.LogAsyncOperationStart(ctx, "poll_for_post", map[string]any{
		"post_id":      id,
		"max_attempts": maxAttempts,
		"interval_ms":  interval.Milliseconds(),
	})

	result := PollResult{Status: PollStillPending}
	defer func() {
		observability.LogAsyncOperationEnd(ctx, "poll_for_post", map[string]any{
			"post_id":  id,
			"status":   string(result.Status),
			"attempts": result.Attempts,
		})
	}()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		post, err := s.repo.Find(ctx, kind, id)
		if err == nil {
			result.Status = PollFound
			result.Post = &post
			return result, nil
		}
		if !errors.Is(err, repository.ErrPostNotFound) {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.logger.WarnContext(ctx, "poll read failed",
				slog.String("post_id", id),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}

		if attempt < maxAttempts && !sleepContext(ctx, interval) {
			return result, ctx.Err()
		}
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
