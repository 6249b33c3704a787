package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	removed []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (b *fakeBucket) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	return nil
}

func (b *fakeBucket) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func TestOffloadStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		return NewOffloadStore(NewMemoryStore(), newFakeBucket(), nil)
	})
}

func TestOffloadStore_SplitsBinaryEntries(t *testing.T) {
	inner := NewMemoryStore()
	bucket := newFakeBucket()
	s := NewOffloadStore(inner, bucket, nil)
	ctx := context.Background()

	_, err := s.WriteMany(ctx, []Entry{
		{Key: "public/generated-1.png", Data: []byte("png"), Binary: true},
		{Key: "data/posts.json", Data: []byte("{}")},
	}, "add", "")
	require.NoError(t, err)

	assert.True(t, bucket.has("public/generated-1.png"))
	assert.False(t, inner.Has("public/generated-1.png"))
	assert.True(t, inner.Has("data/posts.json"))
}

func TestOffloadStore_ConflictRemovesBlobs(t *testing.T) {
	inner := NewMemoryStore()
	bucket := newFakeBucket()
	s := NewOffloadStore(inner, bucket, nil)
	ctx := context.Background()

	// the image lands in the bucket, then the record commit is rejected
	inner.BeforeWrite(func([]Entry) error { return ErrConflict })

	_, err := s.WriteMany(ctx, []Entry{
		{Key: "public/generated-2.png", Data: []byte("png"), Binary: true},
		{Key: "data/posts.json", Data: []byte("{}")},
	}, "add", "")
	require.Error(t, err)

	assert.False(t, bucket.has("public/generated-2.png"))
	assert.Equal(t, []string{"public/generated-2.png"}, bucket.removed)
	_, err = s.Read(ctx, "data/posts.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

// appliedThenFails commits the batch and then reports a failure, like a
// ref update whose response was lost.
type appliedThenFails struct {
	*MemoryStore
}

func (s appliedThenFails) WriteMany(ctx context.Context, entries []Entry, message, baseVersion string) (string, error) {
	if _, err := s.MemoryStore.WriteMany(ctx, entries, message, baseVersion); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: request timed out", ErrUpstream)
}

func TestOffloadStore_AmbiguousFailureKeepsBlobs(t *testing.T) {
	inner := appliedThenFails{NewMemoryStore()}
	bucket := newFakeBucket()
	s := NewOffloadStore(inner, bucket, nil)
	ctx := context.Background()

	_, err := s.WriteMany(ctx, []Entry{
		{Key: "public/generated-3.png", Data: []byte("png"), Binary: true},
		{Key: "data/posts.json", Data: []byte(`{"posts":[]}`)},
	}, "add", "")
	require.ErrorIs(t, err, ErrUpstream)

	// the record landed, so its image must stay readable
	_, err = s.Read(ctx, "data/posts.json")
	require.NoError(t, err)
	obj, err := s.Read(ctx, "public/generated-3.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), obj.Data)
	assert.Empty(t, bucket.removed)
}

func TestOffloadStore_UploadFailureRollsBackEarlierUploads(t *testing.T) {
	bucket := &flakyBucket{fakeBucket: newFakeBucket(), failOn: "public/b.png"}
	s := NewOffloadStore(NewMemoryStore(), bucket, nil)

	_, err := s.WriteMany(context.Background(), []Entry{
		{Key: "public/a.png", Data: []byte("a"), Binary: true},
		{Key: "public/b.png", Data: []byte("b"), Binary: true},
	}, "add", "")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.False(t, bucket.has("public/a.png"))
}

type flakyBucket struct {
	*fakeBucket
	failOn string
}

func (b *flakyBucket) Put(ctx context.Context, key string, data []byte, ct string) error {
	if key == b.failOn {
		return errors.New("503 slow down")
	}
	return b.fakeBucket.Put(ctx, key, data, ct)
}
