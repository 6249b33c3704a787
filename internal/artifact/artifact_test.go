package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(GormModels()...))
	return NewGormStore(db, "main")
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(ctx, "data/posts.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("write then read", func(t *testing.T) {
		s := newStore(t)
		head, err := s.Head(ctx)
		require.NoError(t, err)

		v1, err := s.WriteMany(ctx, []Entry{
			{Key: "public/a.png", Data: []byte("png"), Binary: true},
			{Key: "data/posts.json", Data: []byte(`{"posts":[]}`)},
		}, "first", head)
		require.NoError(t, err)
		assert.NotEqual(t, head, v1)

		obj, err := s.Read(ctx, "data/posts.json")
		require.NoError(t, err)
		assert.Equal(t, `{"posts":[]}`, string(obj.Data))
		assert.Equal(t, v1, obj.Version)

		img, err := s.Read(ctx, "public/a.png")
		require.NoError(t, err)
		assert.Equal(t, "png", string(img.Data))
	})

	t.Run("stale base conflicts and applies nothing", func(t *testing.T) {
		s := newStore(t)
		base, err := s.Head(ctx)
		require.NoError(t, err)

		_, err = s.WriteMany(ctx, []Entry{{Key: "data/posts.json", Data: []byte("one")}}, "one", base)
		require.NoError(t, err)

		_, err = s.WriteMany(ctx, []Entry{
			{Key: "public/b.png", Data: []byte("png"), Binary: true},
			{Key: "data/posts.json", Data: []byte("two")},
		}, "two", base)
		assert.ErrorIs(t, err, ErrConflict)

		obj, err := s.Read(ctx, "data/posts.json")
		require.NoError(t, err)
		assert.Equal(t, "one", string(obj.Data))
		_, err = s.Read(ctx, "public/b.png")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty base writes on head", func(t *testing.T) {
		s := newStore(t)
		_, err := s.WriteMany(ctx, []Entry{{Key: "k", Data: []byte("1")}}, "a", "")
		require.NoError(t, err)
		_, err = s.WriteMany(ctx, []Entry{{Key: "k", Data: []byte("2")}}, "b", "")
		require.NoError(t, err)

		obj, err := s.Read(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "2", string(obj.Data))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestGormStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return newGormStore(t) })
}

func TestGormStore_RecordsCommitMessages(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()

	_, err := s.WriteMany(ctx, []Entry{{Key: "k", Data: []byte("v")}}, "Add daily post", "")
	require.NoError(t, err)

	var commits []ArtifactCommit
	require.NoError(t, s.db.Find(&commits).Error)
	require.Len(t, commits, 1)
	assert.Equal(t, "Add daily post", commits[0].Message)
	assert.Equal(t, int64(1), commits[0].Revision)
	assert.Equal(t, 1, commits[0].Keys)
}

func TestMemoryStore_ConcurrentWritersOnSameBase(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base, _ := s.Head(ctx)

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.WriteMany(ctx, []Entry{{Key: "doc", Data: []byte(fmt.Sprint(i))}}, "w", base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
}

func TestMemoryStore_BeforeWriteFault(t *testing.T) {
	s := NewMemoryStore()
	fault := errors.New("disk full")
	s.BeforeWrite(func([]Entry) error { return fault })

	_, err := s.WriteMany(context.Background(), []Entry{{Key: "k", Data: []byte("v")}}, "m", "")
	assert.ErrorIs(t, err, fault)
	assert.Equal(t, 0, s.Keys())
}

func TestContentType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "application/json", ContentType("data/posts.json"))
	assert.Equal(t, "image/png", ContentType("public/generated-1.png"))
	assert.Equal(t, "image/jpeg", ContentType("public/tagged/user-selfies/a-1.jpg"))
	assert.Equal(t, "image/webp", ContentType("public/tagged/generated/tagged-1.webp"))
	assert.Equal(t, "application/octet-stream", ContentType("public/blob"))
}
