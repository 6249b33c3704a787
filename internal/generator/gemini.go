package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"everyday/internal/observability"

	"google.golang.org/genai"
)

// GeminiConfig selects the models used for each capability.
type GeminiConfig struct {
	APIKey     string
	TextModel  string
	ImageModel string
}

// Gemini implements Client on the Gemini API.
type Gemini struct {
	client     *genai.Client
	textModel  string
	imageModel string
}

// NewGemini creates a Gemini client. It does not contact the API.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, textModel: cfg.TextModel, imageModel: cfg.ImageModel}, nil
}

// GeminiFactory returns a Factory that builds per-key clients with the
// models from base.
func GeminiFactory(base GeminiConfig) Factory {
	return func(ctx context.Context, apiKey string) (Client, error) {
		cfg := base
		cfg.APIKey = apiKey
		return NewGemini(ctx, cfg)
	}
}

// GenerateText runs the text model and returns the concatenated text parts.
func (g *Gemini) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	done := observability.TrackGeneration("text")

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(opts.Temperature),
		TopK:            genai.Ptr(opts.TopK),
		TopP:            genai.Ptr(opts.TopP),
		MaxOutputTokens: int32(opts.MaxTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, contents, config)
	if err != nil {
		done("error")
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	text := textFromResponse(resp)
	if text == "" {
		done("empty")
		return "", fmt.Errorf("%w: empty text response", ErrUpstream)
	}
	done("ok")
	return text, nil
}

// GenerateImage sends the prompt followed by the reference images and returns
// every part of the first candidate.
func (g *Gemini) GenerateImage(ctx context.Context, prompt string, images []Image) ([]Part, error) {
	done := observability.TrackGeneration("image")

	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel, contents, config)
	if err != nil {
		done("error")
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	done("ok")
	return partsFromResponse(resp), nil
}

func textFromResponse(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, p := range partsFromResponse(resp) {
		b.WriteString(p.Text)
	}
	return b.String()
}

func partsFromResponse(resp *genai.GenerateContentResponse) []Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil
	}

	out := make([]Part, 0, len(cand.Content.Parts))
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.InlineData != nil && len(p.InlineData.Data) > 0:
			out = append(out, Part{Image: &Image{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}})
		case p.Text != "":
			out = append(out, Part{Text: p.Text})
		}
	}
	return out
}
