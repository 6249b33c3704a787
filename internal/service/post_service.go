package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"everyday/internal/artifact"
	"everyday/internal/assembler"
	"everyday/internal/featureflags"
	"everyday/internal/generator"
	"everyday/internal/models"
	"everyday/internal/observability"
	"everyday/internal/pipeline"
	"everyday/internal/quota"
	"everyday/internal/repository"
)

const maxHandleLen = 30

// PostServiceConfig holds the owner-specific settings of post creation.
type PostServiceConfig struct {
	OwnerHandle   string
	BaseSelfieKey string
	Baseline      time.Time
	Location      *time.Location

	// FallbackToBase posts the base selfie when daily synthesis fails
	// instead of failing the job.
	FallbackToBase bool
}

// PostService runs the creation pipeline: quota, expand, synthesize,
// assemble, commit.
type PostService struct {
	repo      repository.PostRepository
	store     artifact.Store
	limiter   *quota.Limiter
	pipeline  *pipeline.Pipeline
	factory   generator.Factory
	assembler *assembler.Assembler
	images    *ImageService
	flags     *featureflags.Manager
	cfg       PostServiceConfig
	now       func() time.Time
	logger    *slog.Logger
}

// PostServiceDeps are the collaborators of a PostService. Factory may be nil,
// in which case API key overrides are rejected.
type PostServiceDeps struct {
	Repo      repository.PostRepository
	Store     artifact.Store
	Limiter   *quota.Limiter
	Pipeline  *pipeline.Pipeline
	Factory   generator.Factory
	Assembler *assembler.Assembler
	Images    *ImageService
	Flags     *featureflags.Manager
	Logger    *slog.Logger
}

func NewPostService(deps PostServiceDeps, cfg PostServiceConfig) *PostService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Assembler == nil {
		deps.Assembler = assembler.New(cfg.Location)
	}
	if deps.Images == nil {
		deps.Images = NewImageService(DefaultImageMaxUploadSizeMB)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &PostService{
		repo:      deps.Repo,
		store:     deps.Store,
		limiter:   deps.Limiter,
		pipeline:  deps.Pipeline,
		factory:   deps.Factory,
		assembler: deps.Assembler,
		images:    deps.Images,
		flags:     deps.Flags,
		cfg:       cfg,
		now:       time.Now,
		logger:    deps.Logger,
	}
}

// CreateTaggedPostInput is one collaborative selfie request. Multi-valued
// form fields are already reduced to their first value.
type CreateTaggedPostInput struct {
	ClientID string
	Handle   string
	Prompt   string
	APIKey   string
	Selfie   UploadImageInput
}

// SanitizeHandle strips a leading "@", lower-cases and keeps only
// characters valid in a social handle.
func SanitizeHandle(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() == maxHandleLen {
			break
		}
	}
	return b.String()
}

// CreateTaggedPost creates a collaborative post. A request carrying its own
// API key bypasses the shared quota. Once a quota slot is consumed, any
// later failure hands it back.
func (s *PostService) CreateTaggedPost(ctx context.Context, in CreateTaggedPostInput) (post models.Post, err error) {
	observability.LogServiceCall(ctx, "PostService", "CreateTaggedPost", map[string]any{
		"client_id":    in.ClientID,
		"has_api_key":  in.APIKey != "",
		"has_prompt":   in.Prompt != "",
		"selfie_bytes": len(in.Selfie.Content),
	})

	if s.flags.Has(featureflags.TaggedPosts) && !s.flags.Enabled(featureflags.TaggedPosts, in.ClientID) {
		return models.Post{}, models.NewUnavailableError("Tagged posts are currently disabled", nil)
	}

	handle := SanitizeHandle(in.Handle)
	if handle == "" || len(in.Selfie.Content) == 0 {
		return models.Post{}, models.NewValidationError("Instagram handle and selfie are required")
	}
	userSelfie, err := s.images.NormalizeReference(in.Selfie)
	if err != nil {
		return models.Post{}, err
	}

	pipe := s.pipeline
	if in.APIKey != "" {
		pipe, err = s.pipelineForKey(ctx, in.APIKey)
		if err != nil {
			return models.Post{}, err
		}
	} else {
		var window string
		window, err = s.consume(ctx, in.ClientID)
		if err != nil {
			return models.Post{}, err
		}
		if window != "" {
			defer func() {
				if err != nil {
					s.limiter.Release(context.WithoutCancel(ctx), in.ClientID, window)
				}
			}()
		}
	}
	if pipe == nil {
		return models.Post{}, models.NewUpstreamError("Image generation is not configured", generator.ErrUpstream)
	}

	expansion := pipe.Expand(ctx, pipeline.TaggedInstruction(in.Prompt))

	ownerSelfie, err := s.ownerSelfie(ctx)
	if err != nil {
		return models.Post{}, err
	}

	generated, err := pipe.Synthesize(ctx, pipeline.TaggedScene(expansion.Description, s.cfg.OwnerHandle), []generator.Image{userSelfie, ownerSelfie})
	if err != nil {
		return models.Post{}, models.NewUpstreamError("Failed to generate image", err)
	}

	stamp := s.now().UnixMilli()
	token := assembler.ShortToken()
	selfieKey := fmt.Sprintf("public/tagged/user-selfies/%s-%d-%s.jpg", handle, stamp, token)
	imageKey := fmt.Sprintf("public/tagged/generated/tagged-%d-%s.%s", stamp, token, ExtensionFor(generated.MIMEType))

	entries := []artifact.Entry{
		{Key: selfieKey, Data: userSelfie.Data, Binary: true},
		{Key: imageKey, Data: generated.Data, Binary: true},
	}
	previewKey := s.preview(ctx, in.ClientID, generated, fmt.Sprintf("public/tagged/generated/tagged-%d-%s.webp", stamp, token), &entries)

	post = s.assembler.Assemble(expansion.Description, expansion.Caption, imageKey, assembler.Extra{
		Kind:              models.PostKindTagged,
		Mode:              assembler.SingleHashtag,
		AttributionHandle: s.cfg.OwnerHandle,
		Preview:           previewKey,
	})
	post.UserInstagram = handle
	post.UserSelfie = selfieKey
	post.UserPrompt = in.Prompt
	post.ExpandedPrompt = expansion.Description

	return s.commit(ctx, post, entries)
}

// CreateDailyPost generates today's owner selfie from the base selfie.
func (s *PostService) CreateDailyPost(ctx context.Context) (models.Post, error) {
	observability.LogServiceCall(ctx, "PostService", "CreateDailyPost", nil)

	if s.pipeline == nil {
		return models.Post{}, models.NewUpstreamError("Image generation is not configured", generator.ErrUpstream)
	}

	now := s.now()
	days := s.DaysSinceBaseline(now)
	expansion := s.pipeline.Expand(ctx, pipeline.DailyInstruction(days, s.cfg.Baseline))

	base, err := s.readImage(ctx, s.cfg.BaseSelfieKey)
	if err != nil {
		return models.Post{}, models.NewInternalError(fmt.Errorf("base selfie %s: %w", s.cfg.BaseSelfieKey, err))
	}

	generated, err := s.pipeline.Synthesize(ctx, pipeline.DailyScene(expansion.Description), []generator.Image{base})
	if err != nil {
		if !s.cfg.FallbackToBase {
			return models.Post{}, models.NewUpstreamError("Failed to generate image", err)
		}
		observability.LogDegraded(ctx, "daily_synthesis_fallback", err, map[string]any{"base": s.cfg.BaseSelfieKey})
		post := s.assembler.Assemble(expansion.Description, expansion.Caption, s.cfg.BaseSelfieKey, assembler.Extra{
			Kind: models.PostKindDaily,
			Mode: assembler.ClauseHashtags,
		})
		post.IsOriginal = true
		post.DaysSinceBaseline = &days
		post.GeneratedPrompt = expansion.Description
		return s.commit(ctx, post, nil)
	}

	stamp := now.UnixMilli()
	token := assembler.ShortToken()
	imageKey := fmt.Sprintf("public/generated-%d-%s.%s", stamp, token, ExtensionFor(generated.MIMEType))
	entries := []artifact.Entry{{Key: imageKey, Data: generated.Data, Binary: true}}
	previewKey := s.preview(ctx, "", generated, fmt.Sprintf("public/generated-%d-%s.webp", stamp, token), &entries)

	post := s.assembler.Assemble(expansion.Description, expansion.Caption, imageKey, assembler.Extra{
		Kind:    models.PostKindDaily,
		Mode:    assembler.ClauseHashtags,
		Preview: previewKey,
	})
	post.DaysSinceBaseline = &days
	post.GeneratedPrompt = expansion.Description

	return s.commit(ctx, post, entries)
}

// DaysSinceBaseline counts calendar days from the baseline to t in the
// configured zone.
func (s *PostService) DaysSinceBaseline(t time.Time) int {
	local := t.In(s.cfg.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	b := s.cfg.Baseline.In(s.cfg.Location)
	start := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, s.cfg.Location)
	return int(math.Round(today.Sub(start).Hours() / 24))
}

// ListPosts returns one collection, most recent first.
func (s *PostService) ListPosts(ctx context.Context, kind models.PostKind) ([]models.Post, error) {
	if !kind.Valid() {
		return nil, models.NewValidationError("Unknown post collection")
	}
	posts, err := s.repo.List(ctx, kind)
	if err != nil {
		return nil, models.NewUpstreamError("Failed to load posts", err)
	}
	return posts, nil
}

// GetPost returns one post by id.
func (s *PostService) GetPost(ctx context.Context, kind models.PostKind, id string) (models.Post, error) {
	post, err := s.repo.Find(ctx, kind, id)
	if errors.Is(err, repository.ErrPostNotFound) {
		return models.Post{}, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return models.Post{}, models.NewUpstreamError("Failed to load post", err)
	}
	return post, nil
}

// ReadArtifact returns a stored artifact for serving.
func (s *PostService) ReadArtifact(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Read(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, models.NewNotFoundError("Artifact", key)
	}
	if err != nil {
		return nil, models.NewUpstreamError("Failed to read artifact", err)
	}
	return obj.Data, nil
}

func (s *PostService) pipelineForKey(ctx context.Context, apiKey string) (*pipeline.Pipeline, error) {
	if s.factory == nil {
		return nil, models.NewValidationError("Custom API keys are not supported")
	}
	client, err := s.factory(ctx, apiKey)
	if err != nil {
		return nil, models.NewUpstreamError("Failed to initialise generator with the supplied API key", err)
	}
	return pipeline.New(client, client, s.logger), nil
}

// consume charges one quota slot. It returns the window the slot was taken
// from, or "" when nothing needs releasing.
func (s *PostService) consume(ctx context.Context, clientID string) (string, error) {
	if s.limiter == nil {
		return "", nil
	}
	window := s.limiter.WindowDate(s.now())
	decision, err := s.limiter.CheckAndConsume(ctx, clientID, window)
	if err != nil {
		return "", models.NewUnavailableError("Creation is temporarily unavailable", err)
	}
	if !decision.Allowed {
		return "", models.NewRateLimitedError(string(decision.Reason))
	}
	if decision.Degraded {
		return "", nil
	}
	return window, nil
}

// ownerSelfie picks the owner's most recent generated daily image, falling
// back to the base selfie.
func (s *PostService) ownerSelfie(ctx context.Context) (generator.Image, error) {
	posts, err := s.repo.List(ctx, models.PostKindDaily)
	if err != nil {
		s.logger.WarnContext(ctx, "could not list daily posts, using base selfie", slog.String("error", err.Error()))
	}
	for _, p := range posts {
		if p.IsOriginal || p.Image == "" {
			continue
		}
		img, err := s.readImage(ctx, strings.TrimPrefix(p.Image, "/"))
		if err == nil {
			return img, nil
		}
		s.logger.WarnContext(ctx, "owner selfie unreadable, using base selfie",
			slog.String("key", p.Image), slog.String("error", err.Error()))
		break
	}

	img, err := s.readImage(ctx, s.cfg.BaseSelfieKey)
	if err != nil {
		return generator.Image{}, models.NewInternalError(fmt.Errorf("base selfie %s: %w", s.cfg.BaseSelfieKey, err))
	}
	return img, nil
}

func (s *PostService) readImage(ctx context.Context, key string) (generator.Image, error) {
	obj, err := s.store.Read(ctx, key)
	if err != nil {
		return generator.Image{}, err
	}
	return generator.Image{MIMEType: artifact.ContentType(key), Data: obj.Data}, nil
}

// preview appends a WebP preview entry when the flag is on and returns its
// key. Encoding failures only drop the preview.
func (s *PostService) preview(ctx context.Context, subject string, img generator.Image, key string, entries *[]artifact.Entry) string {
	if !s.flags.Enabled(featureflags.WebPPreview, subject) {
		return ""
	}
	data, err := s.images.Preview(img)
	if err != nil {
		s.logger.WarnContext(ctx, "preview rendering failed", slog.String("error", err.Error()))
		return ""
	}
	*entries = append(*entries, artifact.Entry{Key: key, Data: data, Binary: true})
	return key
}

func (s *PostService) commit(ctx context.Context, post models.Post, entries []artifact.Entry) (models.Post, error) {
	saved, err := s.repo.Commit(ctx, post, entries)
	if err != nil {
		return models.Post{}, models.NewUpstreamError("Failed to save post", err)
	}
	observability.PostsCreated.WithLabelValues(string(saved.Kind)).Inc()
	return saved, nil
}
