package repository

import (
	"encoding/json"
	"fmt"

	"everyday/internal/models"
)

// Collection locates one post collection inside the artifact store.
type Collection struct {
	Kind models.PostKind
	Path string
	Root string
}

var (
	// DailyCollection holds the owner's daily selfies.
	DailyCollection = Collection{Kind: models.PostKindDaily, Path: "data/posts.json", Root: "posts"}
	// TaggedCollection holds collaborative selfies.
	TaggedCollection = Collection{Kind: models.PostKindTagged, Path: "data/tagged-posts.json", Root: "taggedPosts"}
)

// CollectionFor returns the collection of kind.
func CollectionFor(kind models.PostKind) (Collection, error) {
	switch kind {
	case models.PostKindDaily:
		return DailyCollection, nil
	case models.PostKindTagged:
		return TaggedCollection, nil
	default:
		return Collection{}, fmt.Errorf("unknown post kind %q", kind)
	}
}

// document is a decoded collection file. Unknown root fields are carried
// through untouched.
type document struct {
	fields map[string]json.RawMessage
	posts  []models.Post
}

func decodeDocument(c Collection, data []byte) (*document, error) {
	doc := &document{fields: make(map[string]json.RawMessage)}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc.fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.Path, err)
	}
	if raw, ok := doc.fields[c.Root]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.posts); err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", c.Path, c.Root, err)
		}
	}
	for i := range doc.posts {
		if doc.posts[i].Kind == "" {
			doc.posts[i].Kind = c.Kind
		}
	}
	return doc, nil
}

func (d *document) encode(c Collection) ([]byte, error) {
	posts := d.posts
	if posts == nil {
		posts = []models.Post{}
	}
	raw, err := json.Marshal(posts)
	if err != nil {
		return nil, err
	}
	d.fields[c.Root] = raw
	return json.MarshalIndent(d.fields, "", "  ")
}

func (d *document) find(id string) (models.Post, bool) {
	for _, p := range d.posts {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}

// prepend puts post first, most recent first.
func (d *document) prepend(post models.Post) {
	d.posts = append([]models.Post{post}, d.posts...)
}
