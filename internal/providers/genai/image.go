package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// GenerateImage asks a Gemini image model for one image and returns the
// decoded inline bytes.
func (c *Client) GenerateImage(ctx context.Context, req providers.ImageRequest) (res domain.Result[[]byte]) {
	defer providers.Recover(&res, Name, c.logger)

	if err := providers.RequireModel(Name, req.Model); err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}

	text := strings.TrimSpace(req.Prompt) + "\nAvoid: " + providers.NegativePrompt(req.NegativePrompt)
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: text}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: providers.Coalesce(req.AspectRatio, "1:1")},
		},
	}
	ex, err := c.generateContent(ctx, ep, req.Model, payload)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(ex.Body, &decoded); err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("decode response: %w", err))
	}
	encoded := firstInlineData(decoded)
	if encoded == "" {
		return domain.Failure[[]byte](Name+" API returned no image data", Name)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("decode image data: %w", err))
	}
	if len(data) == 0 {
		return domain.Failure[[]byte](Name+" API returned an empty image", Name)
	}

	usage := decoded.UsageMetadata
	providers.LogCall(c.logger, Name, req.Model, ex, usage.PromptTokenCount, usage.CandidatesTokenCount, pricingFor(req.Model))
	return domain.Success(data)
}

func firstInlineData(resp generateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, p := range candidate.Content.Parts {
			if p.InlineData != nil && strings.TrimSpace(p.InlineData.Data) != "" {
				return p.InlineData.Data
			}
		}
	}
	return ""
}
