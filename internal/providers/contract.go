// Package providers defines the per-kind generation contracts, the factory
// that routes content types to registered providers, and the helpers every
// vendor integration shares.
package providers

import (
	"context"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// Provider is implemented by every vendor integration.
type Provider interface {
	Name() string
}

// ImageGenerator produces encoded image bytes.
type ImageGenerator interface {
	Provider
	GenerateImage(ctx context.Context, req ImageRequest) domain.Result[[]byte]
}

// AudioGenerator produces encoded audio bytes.
type AudioGenerator interface {
	Provider
	GenerateAudio(ctx context.Context, req AudioRequest) domain.Result[[]byte]
}

// VideoGenerator produces encoded video bytes.
type VideoGenerator interface {
	Provider
	GenerateVideo(ctx context.Context, req VideoRequest) domain.Result[[]byte]
}

// PromptEnhancer rewrites a prompt for a target content type.
type PromptEnhancer interface {
	Provider
	EnhancePrompt(ctx context.Context, req PromptRequest) domain.Result[string]
}

// TextGenerator produces free text.
type TextGenerator interface {
	Provider
	GenerateText(ctx context.Context, req TextRequest) domain.Result[string]
}

// ImageRequest carries the inputs of an image generation.
type ImageRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	ContentType    domain.GeneratedContentType
}

// AudioRequest carries the inputs of an audio generation.
type AudioRequest struct {
	Model           string
	Prompt          string
	DurationSeconds float64
	Loop            bool
	ContentType     domain.GeneratedContentType
}

// VideoRequest carries the inputs of a video generation.
type VideoRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	ContentType    domain.GeneratedContentType
}

// PromptRequest asks for a prompt rewritten for TargetType.
type PromptRequest struct {
	Model      string
	Prompt     string
	TargetType domain.GeneratedContentType
	Context    string
}

// TextRequest asks for free text.
type TextRequest struct {
	Model        string
	Prompt       string
	Instructions string
	MaxTokens    int
}
