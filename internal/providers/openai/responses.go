package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type responsesRequest struct {
	Model           string  `json:"model"`
	Instructions    string  `json:"instructions,omitempty"`
	Input           string  `json:"input"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// EnhancePrompt rewrites a prompt for the target content type.
func (c *Client) EnhancePrompt(ctx context.Context, req providers.PromptRequest) (res domain.Result[string]) {
	defer providers.Recover(&res, Name, c.logger)
	res = c.respond(ctx, responsesRequest{
		Model:        req.Model,
		Instructions: providers.EnhancementInstructions(req.TargetType, req.Context),
		Input:        req.Prompt,
	})
	if res.IsSuccessful() {
		res.Value = providers.CleanModelText(res.Value)
	}
	return res
}

// GenerateText produces free text from a prompt and optional instructions.
func (c *Client) GenerateText(ctx context.Context, req providers.TextRequest) (res domain.Result[string]) {
	defer providers.Recover(&res, Name, c.logger)
	return c.respond(ctx, responsesRequest{
		Model:           req.Model,
		Instructions:    req.Instructions,
		Input:           req.Prompt,
		MaxOutputTokens: req.MaxTokens,
	})
}

func (c *Client) respond(ctx context.Context, payload responsesRequest) domain.Result[string] {
	if err := providers.RequireModel(Name, payload.Model); err != nil {
		return providers.Fail[string](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[string](Name, err)
	}
	ex, err := c.post(ctx, ep, "/responses", payload)
	if err != nil {
		return providers.Fail[string](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[string](c.logger, Name, ex)
	}
	var decoded responsesResponse
	if err := json.Unmarshal(ex.Body, &decoded); err != nil {
		return providers.Fail[string](Name, fmt.Errorf("decode response: %w", err))
	}
	text := strings.TrimSpace(outputText(decoded))
	if text == "" {
		return domain.Failure[string](Name+" API returned no text", Name)
	}
	providers.LogCall(c.logger, Name, payload.Model, ex, decoded.Usage.InputTokens, decoded.Usage.OutputTokens, textPricing(payload.Model))
	return domain.Success(text)
}

func outputText(resp responsesResponse) string {
	sb := &strings.Builder{}
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}
