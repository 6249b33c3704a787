// Package models holds the feed's domain records and the API error taxonomy.
package models

import "time"

// PostKind selects which collection a post belongs to.
type PostKind string

const (
	// PostKindDaily is the owner's own daily selfie.
	PostKindDaily PostKind = "daily"
	// PostKindTagged is a collaborative selfie requested by a visitor.
	PostKindTagged PostKind = "tagged"
)

// Valid reports whether k names a known collection.
func (k PostKind) Valid() bool {
	return k == PostKindDaily || k == PostKindTagged
}

// Comment is an entry under a post. Hashtags derived at creation time are
// stored as comments with IsHashtag set.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsHashtag bool      `json:"isHashtag"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attribution places a handle on the image, x and y in percent.
type Attribution struct {
	Handle string `json:"username"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// Post is one published item in either collection.
type Post struct {
	ID        string    `json:"id"`
	Kind      PostKind  `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	// Date is the display date ("Jan 2") fixed at assembly time.
	Date     string        `json:"date"`
	Caption  string        `json:"caption"`
	Image    string        `json:"image"`
	Preview  string        `json:"preview,omitempty"`
	Comments []Comment     `json:"comments"`
	Tags     []Attribution `json:"tags,omitempty"`

	IsOriginal        bool   `json:"isOriginal,omitempty"`
	DaysSinceBaseline *int   `json:"daysSinceBaseline,omitempty"`
	GeneratedPrompt   string `json:"generatedPrompt,omitempty"`

	UserInstagram  string `json:"userInstagram,omitempty"`
	UserSelfie     string `json:"userSelfie,omitempty"`
	UserPrompt     string `json:"userPrompt,omitempty"`
	ExpandedPrompt string `json:"expandedPrompt,omitempty"`
}

// Hashtags returns the hashtag texts in insertion order.
func (p *Post) Hashtags() []string {
	out := make([]string, 0, len(p.Comments))
	for _, c := range p.Comments {
		if c.IsHashtag {
			out = append(out, c.Text)
		}
	}
	return out
}

// Attribution returns the first attribution tag, if any.
func (p *Post) Attribution() (Attribution, bool) {
	if len(p.Tags) == 0 {
		return Attribution{}, false
	}
	return p.Tags[0], true
}
