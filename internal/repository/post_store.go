// Package repository persists post collections as documents in the
// artifact store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"everyday/internal/artifact"
	"everyday/internal/cache"
	"everyday/internal/models"
	"everyday/internal/observability"
)

// ErrPostNotFound is returned by Find for an unknown id.
var ErrPostNotFound = errors.New("post not found")

// ErrRetriesExhausted is returned when every commit attempt hit a conflict.
var ErrRetriesExhausted = errors.New("post commit retries exhausted")

// PostRepository defines the interface for post collection operations.
type PostRepository interface {
	List(ctx context.Context, kind models.PostKind) ([]models.Post, error)
	Find(ctx context.Context, kind models.PostKind, id string) (models.Post, error)
	Commit(ctx context.Context, post models.Post, artifacts []artifact.Entry) (models.Post, error)
}

// PostStore implements PostRepository with an optimistic
// read-append-write cycle against an artifact.Store.
type PostStore struct {
	store      artifact.Store
	maxRetries int
	backoff    time.Duration
	listTTL    time.Duration
	logger     *slog.Logger
}

// NewPostStore creates a PostStore making at most maxRetries commit attempts.
func NewPostStore(store artifact.Store, maxRetries int, logger *slog.Logger) *PostStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostStore{
		store:      store,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
		listTTL:    cache.ListTTL,
		logger:     logger,
	}
}

// WithListTTL sets how long listings are cached.
func (s *PostStore) WithListTTL(ttl time.Duration) *PostStore {
	s.listTTL = ttl
	return s
}

// WithBackoff sets the base delay between conflicting attempts.
func (s *PostStore) WithBackoff(d time.Duration) *PostStore {
	s.backoff = d
	return s
}

// load reads and decodes a collection. A missing document is an empty
// collection at the current head.
func (s *PostStore) load(ctx context.Context, c Collection) (*document, string, error) {
	obj, err := s.store.Read(ctx, c.Path)
	if errors.Is(err, artifact.ErrNotFound) {
		head, herr := s.store.Head(ctx)
		if herr != nil {
			return nil, "", herr
		}
		doc, _ := decodeDocument(c, nil)
		return doc, head, nil
	}
	if err != nil {
		return nil, "", err
	}
	doc, err := decodeDocument(c, obj.Data)
	if err != nil {
		return nil, "", err
	}
	return doc, obj.Version, nil
}

// List returns a collection, most recent first. Listings are cached briefly
// under the store head they were read at, so a listing loaded before a
// commit is never served once the commit has moved the head.
func (s *PostStore) List(ctx context.Context, kind models.PostKind) ([]models.Post, error) {
	c, err := CollectionFor(kind)
	if err != nil {
		return nil, err
	}

	fetch := func() ([]models.Post, error) {
		doc, _, err := s.load(ctx, c)
		if err != nil {
			return nil, err
		}
		if doc.posts == nil {
			return []models.Post{}, nil
		}
		return doc.posts, nil
	}

	if s.listTTL <= 0 || cache.GetClient() == nil {
		return fetch()
	}
	head, err := s.store.Head(ctx)
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	err = cache.Aside(ctx, cache.PostsListKey(kind, head), &posts, s.listTTL, func() error {
		posts, err = fetch()
		return err
	})
	return posts, err
}

// Find reads the collection directly, bypassing the listing cache.
func (s *PostStore) Find(ctx context.Context, kind models.PostKind, id string) (models.Post, error) {
	c, err := CollectionFor(kind)
	if err != nil {
		return models.Post{}, err
	}
	doc, _, err := s.load(ctx, c)
	if err != nil {
		return models.Post{}, err
	}
	if post, ok := doc.find(id); ok {
		return post, nil
	}
	return models.Post{}, ErrPostNotFound
}

// Commit prepends post to its collection and writes the collection together
// with artifacts in one store commit. On a conflict the whole cycle is
// retried on fresh state. If a previous attempt already landed the post (an
// ambiguous failure), the stored post is returned and nothing is written.
func (s *PostStore) Commit(ctx context.Context, post models.Post, artifacts []artifact.Entry) (models.Post, error) {
	c, err := CollectionFor(post.Kind)
	if err != nil {
		return models.Post{}, err
	}

	span, ctx := observability.NewSpan(ctx, "repository.Commit")
	defer span.End()

	message := fmt.Sprintf("Add %s post %s", post.Kind, post.ID)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		doc, version, err := s.load(ctx, c)
		if err != nil {
			span.SetError(err)
			observability.StoreCommits.WithLabelValues(string(c.Kind), "error").Inc()
			return models.Post{}, err
		}

		if existing, ok := doc.find(post.ID); ok {
			return existing, nil
		}

		doc.prepend(post)
		data, err := doc.encode(c)
		if err != nil {
			return models.Post{}, fmt.Errorf("encode %s: %w", c.Path, err)
		}

		entries := make([]artifact.Entry, 0, len(artifacts)+1)
		entries = append(entries, artifacts...)
		entries = append(entries, artifact.Entry{Key: c.Path, Data: data})

		_, err = s.store.WriteMany(ctx, entries, message, version)
		if err == nil {
			observability.StoreCommits.WithLabelValues(string(c.Kind), "ok").Inc()
			return post, nil
		}
		if !errors.Is(err, artifact.ErrConflict) {
			span.SetError(err)
			observability.StoreCommits.WithLabelValues(string(c.Kind), "error").Inc()
			return models.Post{}, err
		}

		observability.StoreCommits.WithLabelValues(string(c.Kind), "conflict").Inc()
		s.logger.InfoContext(ctx, "post commit conflict, retrying",
			slog.String("collection", string(c.Kind)),
			slog.Int("attempt", attempt),
			slog.String("base", version),
		)
		if attempt < s.maxRetries && !sleepContext(ctx, s.jitter(attempt)) {
			return models.Post{}, ctx.Err()
		}
	}

	observability.StoreCommits.WithLabelValues(string(c.Kind), "exhausted").Inc()
	err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.maxRetries, artifact.ErrConflict)
	span.SetError(err)
	return models.Post{}, err
}

func (s *PostStore) jitter(attempt int) time.Duration {
	if s.backoff <= 0 {
		return 0
	}
	base := s.backoff * time.Duration(attempt)
	return base + time.Duration(rand.Int64N(int64(s.backoff)))
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
