// Package artifact is the versioned key/blob store behind the post
// collections and their images. Every backend commits a batch of entries as
// one unit and rejects a batch whose base version is no longer the head.
package artifact

import (
	"context"
	"errors"
	"mime"
	"path"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("artifact not found")
	// ErrConflict is returned when the store head moved past the base version.
	ErrConflict = errors.New("artifact store head moved")
	// ErrUpstream wraps transport and backend failures.
	ErrUpstream = errors.New("artifact store failure")
)

// Entry is one key to write in a batch.
type Entry struct {
	Key    string
	Data   []byte
	Binary bool
}

// Object is the content of one key and the store version it was read at.
type Object struct {
	Data    []byte
	Version string
}

// Store is a versioned artifact store.
type Store interface {
	// Read returns the object under key. Version is the store head the read
	// observed, usable as the base for a following WriteMany.
	Read(ctx context.Context, key string) (Object, error)
	// WriteMany commits every entry or none and returns the new head. An
	// empty baseVersion commits on top of whatever the head is.
	WriteMany(ctx context.Context, entries []Entry, message, baseVersion string) (string, error)
	// Head returns the current store version.
	Head(ctx context.Context) (string, error)
}

// ContentType guesses a MIME type from the key's extension.
func ContentType(key string) string {
	switch ext := path.Ext(key); ext {
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
