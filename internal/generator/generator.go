// Package generator defines the text and image generation capabilities the
// post pipeline depends on, with a Gemini-backed implementation.
package generator

import (
	"context"
	"errors"
)

// ErrUpstream wraps every transport or API failure from a generator.
var ErrUpstream = errors.New("generator upstream failure")

// Options tune text generation.
type Options struct {
	Temperature float32
	TopK        float32
	TopP        float32
	MaxTokens   int
}

// Image is one binary image with its MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// Part is one piece of an image-generation response: either text or an image.
type Part struct {
	Text  string
	Image *Image
}

// TextGenerator turns a prompt into free text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)
}

// ImageGenerator turns a prompt plus reference images into response parts.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, images []Image) ([]Part, error)
}

// Client offers both capabilities, typically sharing one vendor connection.
type Client interface {
	TextGenerator
	ImageGenerator
}

// Factory builds a Client for a caller-supplied API key.
type Factory func(ctx context.Context, apiKey string) (Client, error)
