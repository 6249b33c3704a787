package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"everyday/internal/artifact"
	"everyday/internal/cache"
	"everyday/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, mem *artifact.MemoryStore, retries int) *PostStore {
	t.Helper()
	return NewPostStore(mem, retries, nil).WithBackoff(0).WithListTTL(0)
}

func post(id string, kind models.PostKind) models.Post {
	return models.Post{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
		Date:      "Oct 1",
		Caption:   "hello",
		Image:     "images/" + id + ".jpg",
		Comments:  []models.Comment{},
		Tags:      []models.Attribution{},
	}
}

func TestCommit_EmptyCollection(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 3)
	ctx := context.Background()

	p := post("p1", models.PostKindTagged)
	img := artifact.Entry{Key: "images/p1.jpg", Data: []byte{0xff, 0xd8}, Binary: true}

	got, err := s.Commit(ctx, p, []artifact.Entry{img})
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.True(t, mem.Has("images/p1.jpg"))
	assert.True(t, mem.Has(TaggedCollection.Path))

	posts, err := s.List(ctx, models.PostKindTagged)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)

	daily, err := s.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	assert.Empty(t, daily)
}

func TestCommit_PrependsMostRecentFirst(t *testing.T) {
	t.Parallel()
	s := newStore(t, artifact.NewMemoryStore(), 3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Commit(ctx, post(id, models.PostKindDaily), nil)
		require.NoError(t, err)
	}

	posts, err := s.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestCommit_RetriesOnConflict(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 3)

	var attempts atomic.Int32
	mem.BeforeWrite(func([]artifact.Entry) error {
		if attempts.Add(1) == 1 {
			mem.Bump()
		}
		return nil
	})

	_, err := s.Commit(context.Background(), post("p1", models.PostKindDaily), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())

	got, err := s.Find(context.Background(), models.PostKindDaily, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
}

func TestCommit_RetriesExhausted(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 3)

	var attempts atomic.Int32
	mem.BeforeWrite(func([]artifact.Entry) error {
		attempts.Add(1)
		mem.Bump()
		return nil
	})

	_, err := s.Commit(context.Background(), post("p1", models.PostKindDaily), []artifact.Entry{
		{Key: "images/p1.jpg", Data: []byte("x"), Binary: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, artifact.ErrConflict)
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, mem.Has("images/p1.jpg"))
	assert.Equal(t, 0, mem.Keys())
}

func TestCommit_FailureAppliesNothing(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 3)
	boom := errors.New("upstream unavailable")
	mem.BeforeWrite(func([]artifact.Entry) error { return boom })

	_, err := s.Commit(context.Background(), post("p1", models.PostKindTagged), []artifact.Entry{
		{Key: "images/p1.jpg", Data: []byte("x"), Binary: true},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mem.Keys())
}

func TestCommit_ConcurrentAppendsLoseNothing(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 50)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Commit(ctx, post(fmt.Sprintf("p%d", i), models.PostKindTagged), nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	posts, err := s.List(ctx, models.PostKindTagged)
	require.NoError(t, err)
	assert.Len(t, posts, writers)

	seen := map[string]bool{}
	for _, p := range posts {
		assert.False(t, seen[p.ID], "duplicate %s", p.ID)
		seen[p.ID] = true
	}
}

func TestCommit_SkipsAlreadyPresentID(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := newStore(t, mem, 3)
	ctx := context.Background()

	first := post("p1", models.PostKindDaily)
	_, err := s.Commit(ctx, first, nil)
	require.NoError(t, err)
	head, _ := mem.Head(ctx)

	again := first
	again.Caption = "changed"
	got, err := s.Commit(ctx, again, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Caption)

	after, _ := mem.Head(ctx)
	assert.Equal(t, head, after)
}

func TestCommit_PreservesOtherDocumentFields(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	ctx := context.Background()

	seed := []byte(`{"posts":[{"id":"old","caption":"legacy","date":"Sep 25","image":"images/old.jpg"}],"owner":{"handle":"someone"}}`)
	_, err := mem.WriteMany(ctx, []artifact.Entry{{Key: DailyCollection.Path, Data: seed}}, "seed", "")
	require.NoError(t, err)

	s := newStore(t, mem, 3)
	_, err = s.Commit(ctx, post("new", models.PostKindDaily), nil)
	require.NoError(t, err)

	obj, err := mem.Read(ctx, DailyCollection.Path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(obj.Data, &raw))
	assert.JSONEq(t, `{"handle":"someone"}`, string(raw["owner"]))
	assert.Contains(t, string(obj.Data), "\n  \"")

	posts, err := s.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "new", posts[0].ID)
	assert.Equal(t, "old", posts[1].ID)
	assert.Equal(t, models.PostKindDaily, posts[1].Kind)
}

func TestFind_NotFound(t *testing.T) {
	t.Parallel()
	s := newStore(t, artifact.NewMemoryStore(), 3)

	_, err := s.Find(context.Background(), models.PostKindTagged, "nope")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestCommit_UnknownKind(t *testing.T) {
	t.Parallel()
	s := newStore(t, artifact.NewMemoryStore(), 3)

	_, err := s.Commit(context.Background(), post("p", models.PostKind("weekly")), nil)
	assert.Error(t, err)
}

func TestCommit_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	mem := artifact.NewMemoryStore()
	s := NewPostStore(mem, 5, nil).WithBackoff(time.Hour)
	mem.BeforeWrite(func([]artifact.Entry) error {
		mem.Bump()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Commit(ctx, post("p1", models.PostKindDaily), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// readHook runs fn once, after a read has been served but before it returns.
type readHook struct {
	*artifact.MemoryStore
	once sync.Once
	fn   func()
}

func (h *readHook) Read(ctx context.Context, key string) (artifact.Object, error) {
	obj, err := h.MemoryStore.Read(ctx, key)
	h.once.Do(h.fn)
	return obj, err
}

// Not parallel: swaps the package-level Redis client.
func TestList_CommitDuringLoadIsNotServedStale(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
	})

	ctx := context.Background()
	mem := artifact.NewMemoryStore()
	writer := newStore(t, mem, 3)
	_, err := writer.Commit(ctx, post("p1", models.PostKindDaily), nil)
	require.NoError(t, err)

	// The slow reader loads p1 only, then p2 lands before it caches.
	slow := &readHook{MemoryStore: mem}
	slow.fn = func() {
		_, err := writer.Commit(ctx, post("p2", models.PostKindDaily), nil)
		require.NoError(t, err)
	}
	reader := NewPostStore(slow, 3, nil).WithListTTL(time.Minute)

	posts, err := reader.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	posts, err = reader.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)

	// Same head, served from cache.
	posts, err = reader.List(ctx, models.PostKindDaily)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Len(t, mr.Keys(), 2)
}
