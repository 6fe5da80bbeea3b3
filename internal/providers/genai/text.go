package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// GenerateText returns the concatenated text parts of the first candidate.
func (c *Client) GenerateText(ctx context.Context, req providers.TextRequest) (res domain.Result[string]) {
	defer providers.Recover(&res, Name, c.logger)
	return c.complete(ctx, req.Model, req.Instructions, req.Prompt, req.MaxTokens, 0.9)
}

// EnhancePrompt rewrites a prompt for the target content type.
func (c *Client) EnhancePrompt(ctx context.Context, req providers.PromptRequest) (res domain.Result[string]) {
	defer providers.Recover(&res, Name, c.logger)
	res = c.complete(ctx, req.Model, providers.EnhancementInstructions(req.TargetType, req.Context), req.Prompt, 0, 0.7)
	if res.IsSuccessful() {
		res.Value = providers.CleanModelText(res.Value)
	}
	return res
}

func (c *Client) complete(ctx context.Context, model, instructions, prompt string, maxTokens int, temperature float64) domain.Result[string] {
	if err := providers.RequireModel(Name, model); err != nil {
		return providers.Fail[string](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[string](Name, err)
	}
	payload := generateContentRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
	}
	if strings.TrimSpace(instructions) != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: instructions}}}
	}
	ex, err := c.generateContent(ctx, ep, model, payload)
	if err != nil {
		return providers.Fail[string](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[string](c.logger, Name, ex)
	}
	var decoded generateContentResponse
	if err := json.Unmarshal(ex.Body, &decoded); err != nil {
		return providers.Fail[string](Name, fmt.Errorf("decode response: %w", err))
	}
	text := strings.TrimSpace(joinText(decoded))
	if text == "" {
		return domain.Failure[string](Name+" API returned no text", Name)
	}
	usage := decoded.UsageMetadata
	providers.LogCall(c.logger, Name, model, ex, usage.PromptTokenCount, usage.CandidatesTokenCount, pricingFor(model))
	return domain.Success(text)
}

func joinText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	sb := &strings.Builder{}
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
