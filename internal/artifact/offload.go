package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"everyday/internal/observability"
)

// Bucket is a flat blob bucket for write-once binary artifacts.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// OffloadStore sends binary entries to a Bucket and everything else to an
// inner Store. Blobs are uploaded before the inner commit. They are removed
// again only when the inner store reports a conflict, the one failure that
// proves the batch did not land. Any other failure leaves them in place: the
// commit may still have been applied, and an unreferenced blob is harmless
// where a record pointing at a deleted one is not.
type OffloadStore struct {
	inner  Store
	bucket Bucket
	logger *slog.Logger
}

// NewOffloadStore wraps inner.
func NewOffloadStore(inner Store, bucket Bucket, logger *slog.Logger) *OffloadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &OffloadStore{inner: inner, bucket: bucket, logger: logger}
}

// Read serves from the bucket first and falls back to the inner store.
func (s *OffloadStore) Read(ctx context.Context, key string) (Object, error) {
	data, err := s.bucket.Get(ctx, key)
	if err == nil {
		return Object{Data: data}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Object{}, err
	}
	return s.inner.Read(ctx, key)
}

func (s *OffloadStore) WriteMany(ctx context.Context, entries []Entry, message, baseVersion string) (string, error) {
	defer observability.TrackStore("offload", "write")()

	var (
		uploaded []string
		rest     = make([]Entry, 0, len(entries))
	)
	for _, e := range entries {
		if !e.Binary {
			rest = append(rest, e)
			continue
		}
		if err := s.bucket.Put(ctx, e.Key, e.Data, ContentType(e.Key)); err != nil {
			s.cleanup(ctx, uploaded)
			return "", fmt.Errorf("%w: upload %s: %w", ErrUpstream, e.Key, err)
		}
		uploaded = append(uploaded, e.Key)
	}

	version, err := s.inner.WriteMany(ctx, rest, message, baseVersion)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.cleanup(ctx, uploaded)
		} else if len(uploaded) > 0 {
			s.logger.WarnContext(ctx, "commit outcome unknown, keeping uploaded blobs",
				slog.String("event", "orphan_blob"),
				slog.Int("blobs", len(uploaded)),
				slog.String("error", err.Error()),
			)
		}
		return "", err
	}
	return version, nil
}

func (s *OffloadStore) Head(ctx context.Context) (string, error) {
	return s.inner.Head(ctx)
}

// cleanup removes blobs of a batch that did not commit. It runs on a fresh
// context so a cancelled request still cleans up.
func (s *OffloadStore) cleanup(ctx context.Context, keys []string) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.bucket.Remove(cleanupCtx, key); err != nil {
			s.logger.WarnContext(ctx, "failed to remove uncommitted blob",
				slog.String("event", "orphan_blob"),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
