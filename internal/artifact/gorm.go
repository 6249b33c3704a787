package artifact

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"everyday/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArtifactHead is the revision counter for one branch.
type ArtifactHead struct {
	Branch    string `gorm:"primaryKey;size:64"`
	Revision  int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// ArtifactObject is one stored key.
type ArtifactObject struct {
	Branch    string `gorm:"primaryKey;size:64"`
	ObjectKey string `gorm:"primaryKey;size:512"`
	Data      []byte
	IsBinary  bool
	Revision  int64 `gorm:"index"`
	UpdatedAt time.Time
}

// ArtifactCommit records the message of each revision.
type ArtifactCommit struct {
	ID        uint   `gorm:"primaryKey"`
	Branch    string `gorm:"size:64;index"`
	Revision  int64
	Message   string `gorm:"type:text"`
	Keys      int
	CreatedAt time.Time
}

// GormModels lists the tables GormStore needs, for AutoMigrate.
func GormModels() []any {
	return []any{&ArtifactHead{}, &ArtifactObject{}, &ArtifactCommit{}}
}

// GormStore keeps artifacts in a SQL database. A commit is one transaction
// that compare-and-swaps the branch revision and upserts the objects.
type GormStore struct {
	db     *gorm.DB
	branch string
}

// NewGormStore returns a store on branch ("main" when empty).
func NewGormStore(db *gorm.DB, branch string) *GormStore {
	if branch == "" {
		branch = "main"
	}
	return &GormStore{db: db, branch: branch}
}

func (s *GormStore) ensureHead(tx *gorm.DB) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ArtifactHead{Branch: s.branch}).Error
}

func (s *GormStore) head(tx *gorm.DB) (int64, error) {
	var h ArtifactHead
	err := tx.Where("branch = ?", s.branch).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return h.Revision, err
}

func (s *GormStore) Read(ctx context.Context, key string) (Object, error) {
	defer observability.TrackStore("gorm", "read")()

	var obj Object
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// head first: a concurrent commit can only make the version stale
		rev, err := s.head(tx)
		if err != nil {
			return err
		}
		var row ArtifactObject
		if err := tx.Where("branch = ? AND object_key = ?", s.branch, key).Take(&row).Error; err != nil {
			return err
		}
		obj = Object{Data: row.Data, Version: strconv.FormatInt(rev, 10)}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return obj, nil
}

func (s *GormStore) WriteMany(ctx context.Context, entries []Entry, message, baseVersion string) (string, error) {
	defer observability.TrackStore("gorm", "write")()

	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureHead(tx); err != nil {
			return err
		}

		base, err := s.head(tx)
		if err != nil {
			return err
		}
		if baseVersion != "" {
			if base, err = strconv.ParseInt(baseVersion, 10, 64); err != nil {
				return fmt.Errorf("%w: bad base version %q", ErrConflict, baseVersion)
			}
		}

		next = base + 1
		res := tx.Model(&ArtifactHead{}).
			Where("branch = ? AND revision = ?", s.branch, base).
			Updates(map[string]any{"revision": next, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: base %d", ErrConflict, base)
		}

		rows := make([]ArtifactObject, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, ArtifactObject{
				Branch:    s.branch,
				ObjectKey: e.Key,
				Data:      e.Data,
				IsBinary:  e.Binary,
				Revision:  next,
			})
		}
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "branch"}, {Name: "object_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"data", "is_binary", "revision", "updated_at"}),
			}).Create(&rows).Error
			if err != nil {
				return err
			}
		}

		return tx.Create(&ArtifactCommit{
			Branch:   s.branch,
			Revision: next,
			Message:  message,
			Keys:     len(entries),
		}).Error
	})
	if errors.Is(err, ErrConflict) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return strconv.FormatInt(next, 10), nil
}

func (s *GormStore) Head(ctx context.Context) (string, error) {
	rev, err := s.head(s.db.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return strconv.FormatInt(rev, 10), nil
}
