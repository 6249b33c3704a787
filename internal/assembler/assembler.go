// Package assembler builds post records from pipeline output.
package assembler

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"everyday/internal/models"

	"github.com/google/uuid"
)

// displayLayout renders a date like "Sep 25".
const displayLayout = "Jan 2"

// Attribution positions are drawn from [tagMin, tagMin+tagSpan).
const (
	tagMin  = 20
	tagSpan = 60
)

// Extra carries the per-collection inputs to Assemble.
type Extra struct {
	Kind models.PostKind
	Mode HashtagMode
	// AttributionHandle, when set, adds one on-image tag for that handle.
	AttributionHandle string
	Preview           string
}

// Assembler stamps posts with ids, times and derived fields.
type Assembler struct {
	loc  *time.Location
	now  func() time.Time
	intn func(int) int
}

// New returns an Assembler that formats display dates in loc.
func New(loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{loc: loc, now: time.Now, intn: rand.IntN}
}

// DisplayDate formats t in the assembler's zone.
func (a *Assembler) DisplayDate(t time.Time) string {
	return DisplayDate(t, a.loc)
}

// DisplayDate formats t as "Jan 2" in loc.
func DisplayDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(displayLayout)
}

// Assemble builds a post. The creation instant is read once and used for the
// id, createdAt, the display date and every hashtag comment.
func (a *Assembler) Assemble(description, caption, artifactRef string, extra Extra) models.Post {
	now := a.now().UTC()

	tags := Hashtags(description, extra.Mode)
	comments := make([]models.Comment, 0, len(tags))
	for _, tag := range tags {
		comments = append(comments, models.Comment{
			ID:        ShortToken(),
			Text:      tag,
			IsHashtag: true,
			CreatedAt: now,
		})
	}

	post := models.Post{
		ID:        NewPostID(now),
		Kind:      extra.Kind,
		CreatedAt: now,
		Date:      a.DisplayDate(now),
		Caption:   caption,
		Image:     artifactRef,
		Preview:   extra.Preview,
		Comments:  comments,
	}

	if extra.AttributionHandle != "" {
		post.Tags = []models.Attribution{{
			Handle: extra.AttributionHandle,
			X:      tagMin + a.intn(tagSpan),
			Y:      tagMin + a.intn(tagSpan),
		}}
	}
	return post
}

// NewPostID joins a nanosecond timestamp with a random token.
func NewPostID(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 36) + "-" + ShortToken()
}

// ShortToken returns nine random base-36 characters.
func ShortToken() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	n, _ := strconv.ParseUint(id[:16], 16, 64)
	token := strconv.FormatUint(n, 36)
	for len(token) < 9 {
		token = "0" + token
	}
	return token[:9]
}
