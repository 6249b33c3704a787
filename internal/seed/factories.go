// Package seed provides helpers to create demo data in the artifact store.
// These helpers are intended for development and testing only.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	"everyday/internal/artifact"
	"everyday/internal/assembler"
	"everyday/internal/models"
	"everyday/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// PlaceholderJPEG renders a w x h vertical gradient between two random colors.
func PlaceholderJPEG(faker *gofakeit.Faker, w, h int) ([]byte, error) {
	top := randomColor(faker)
	bottom := randomColor(faker)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := blend(top, bottom, y, h)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func randomColor(faker *gofakeit.Faker) color.RGBA {
	rgb := faker.RGBColor()
	return color.RGBA{R: uint8(rgb[0]), G: uint8(rgb[1]), B: uint8(rgb[2]), A: 255}
}

func blend(a, b color.RGBA, y, h int) color.RGBA {
	if h <= 1 {
		return a
	}
	mix := func(p, q uint8) uint8 {
		return uint8((int(p)*(h-1-y) + int(q)*y) / (h - 1))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// EnsureBaseSelfie writes a placeholder under key when the store has nothing there.
func EnsureBaseSelfie(ctx context.Context, store artifact.Store, key string) error {
	_, err := store.Read(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return err
	}

	data, err := PlaceholderJPEG(gofakeit.New(0), 512, 512)
	if err != nil {
		return err
	}
	_, err = store.WriteMany(ctx, []artifact.Entry{{Key: key, Data: data, Binary: true}},
		"Seed base selfie", "")
	return err
}

// Factory builds demo posts and commits them through a repository.
type Factory struct {
	repo      repository.PostRepository
	assembler *assembler.Assembler
	faker     *gofakeit.Faker
}

// NewFactory creates a Factory. A zero seed draws a random one.
func NewFactory(repo repository.PostRepository, asm *assembler.Assembler, seed int64) *Factory {
	if asm == nil {
		asm = assembler.New(nil)
	}
	return &Factory{repo: repo, assembler: asm, faker: gofakeit.New(seed)}
}

// BuildDailyPost constructs a daily post and its image without committing.
func (f *Factory) BuildDailyPost(day int) (models.Post, []artifact.Entry, error) {
	scene := fmt.Sprintf("%s, %s, %s",
		f.faker.HipsterSentence(4),
		f.faker.AdjectiveDescriptive()+" "+f.faker.NounConcrete(),
		f.faker.WeekDay()+" light",
	)
	caption := f.faker.Sentence(8)

	key := fmt.Sprintf("public/seed/daily-%s.jpg", assembler.ShortToken())
	data, err := PlaceholderJPEG(f.faker, 480, 600)
	if err != nil {
		return models.Post{}, nil, err
	}

	post := f.assembler.Assemble(scene, caption, key, assembler.Extra{
		Kind: models.PostKindDaily,
		Mode: assembler.ClauseHashtags,
	})
	post.DaysSinceBaseline = &day
	post.GeneratedPrompt = scene
	return post, []artifact.Entry{{Key: key, Data: data, Binary: true}}, nil
}

// BuildTaggedPost constructs a collaborative post and both images without committing.
func (f *Factory) BuildTaggedPost(ownerHandle string) (models.Post, []artifact.Entry, error) {
	handle := strings.ToLower(f.faker.Username())
	scene := f.faker.AdjectiveDescriptive() + " " + f.faker.Hobby()
	caption := fmt.Sprintf("Hanging out with @%s! %s", handle, f.faker.Emoji())

	token := assembler.ShortToken()
	userKey := fmt.Sprintf("public/seed/user-%s.jpg", token)
	imageKey := fmt.Sprintf("public/seed/tagged-%s.jpg", token)

	userData, err := PlaceholderJPEG(f.faker, 320, 320)
	if err != nil {
		return models.Post{}, nil, err
	}
	imageData, err := PlaceholderJPEG(f.faker, 480, 600)
	if err != nil {
		return models.Post{}, nil, err
	}

	post := f.assembler.Assemble(scene, caption, imageKey, assembler.Extra{
		Kind:              models.PostKindTagged,
		Mode:              assembler.SingleHashtag,
		AttributionHandle: ownerHandle,
	})
	post.UserInstagram = handle
	post.UserSelfie = userKey
	post.UserPrompt = f.faker.Phrase()
	post.ExpandedPrompt = scene

	return post, []artifact.Entry{
		{Key: userKey, Data: userData, Binary: true},
		{Key: imageKey, Data: imageData, Binary: true},
	}, nil
}

// DemoFeed commits dailies daily posts and tagged collaborative posts.
func (f *Factory) DemoFeed(ctx context.Context, dailies, tagged int, ownerHandle string) error {
	for day := 1; day <= dailies; day++ {
		post, entries, err := f.BuildDailyPost(day)
		if err != nil {
			return err
		}
		if _, err := f.repo.Commit(ctx, post, entries); err != nil {
			return fmt.Errorf("commit daily post %d: %w", day, err)
		}
	}
	for i := 0; i < tagged; i++ {
		post, entries, err := f.BuildTaggedPost(ownerHandle)
		if err != nil {
			return err
		}
		if _, err := f.repo.Commit(ctx, post, entries); err != nil {
			return fmt.Errorf("commit tagged post %d: %w", i+1, err)
		}
	}
	return nil
}
