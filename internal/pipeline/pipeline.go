// Package pipeline turns a free-text seed into a scene description and
// caption, then into an image, using the generator capabilities.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"everyday/internal/generator"
	"everyday/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// ErrNoImage is returned by Synthesize when the response holds no image.
var ErrNoImage = errors.New("no image in generator response")

// DefaultOptions are the text generation settings used for expansion.
var DefaultOptions = generator.Options{
	Temperature: 0.8,
	TopK:        40,
	TopP:        0.95,
	MaxTokens:   1024,
}

// Expansion is the structured result of Expand.
type Expansion struct {
	Description string `json:"description"`
	Caption     string `json:"caption"`
	// Tier tells which parse path produced the pair.
	Tier string `json:"-"`
}

// Pipeline runs expansion and synthesis against one generator pair.
type Pipeline struct {
	text   generator.TextGenerator
	image  generator.ImageGenerator
	opts   generator.Options
	logger *slog.Logger
}

// New creates a Pipeline with DefaultOptions.
func New(text generator.TextGenerator, image generator.ImageGenerator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{text: text, image: image, opts: DefaultOptions, logger: logger}
}

// Expand asks the text model for a description and caption. It never fails:
// transport errors yield the instruction's canned pair and malformed output
// is recovered by the parser.
func (p *Pipeline) Expand(ctx context.Context, in Instruction) Expansion {
	span, ctx := observability.NewSpan(ctx, "pipeline.Expand")
	defer span.End()

	if p.text == nil {
		return p.canned(ctx, in, errors.New("no text generator configured"))
	}

	text, err := p.text.GenerateText(ctx, in.Prompt, p.opts)
	if err != nil {
		span.SetError(err)
		return p.canned(ctx, in, err)
	}
	if strings.TrimSpace(text) == "" {
		return p.canned(ctx, in, errors.New("empty generator response"))
	}

	exp := parseExpansion(text, in.DefaultCaption)
	span.AddAttributes(attribute.String("expand.tier", exp.Tier))
	if exp.Tier != TierTagged {
		observability.ExpandFallbacks.WithLabelValues(exp.Tier).Inc()
		p.logger.DebugContext(ctx, "expansion recovered by fallback parse",
			slog.String("tier", exp.Tier),
			slog.String("raw", text),
		)
	}
	return exp
}

func (p *Pipeline) canned(ctx context.Context, in Instruction, cause error) Expansion {
	observability.ExpandFallbacks.WithLabelValues(TierCanned).Inc()
	p.logger.WarnContext(ctx, "prompt expansion failed, using canned pair",
		slog.String("event", "expand_fallback"),
		slog.String("error", cause.Error()),
	)
	exp := in.Fallback
	exp.Tier = TierCanned
	return exp
}

// Synthesize sends the scene and reference images to the image model and
// returns the first image part. A response without an image is an error.
func (p *Pipeline) Synthesize(ctx context.Context, scene string, refs []generator.Image) (generator.Image, error) {
	span, ctx := observability.NewSpan(ctx, "pipeline.Synthesize",
		attribute.Int("synthesize.references", len(refs)),
	)
	defer span.End()

	if p.image == nil {
		return generator.Image{}, fmt.Errorf("%w: no image generator configured", generator.ErrUpstream)
	}

	parts, err := p.image.GenerateImage(ctx, scene, refs)
	if err != nil {
		span.SetError(err)
		return generator.Image{}, err
	}
	for _, part := range parts {
		if part.Image != nil && len(part.Image.Data) > 0 {
			img := *part.Image
			if img.MIMEType == "" {
				img.MIMEType = "image/png"
			}
			return img, nil
		}
	}

	span.SetError(ErrNoImage)
	return generator.Image{}, ErrNoImage
}
