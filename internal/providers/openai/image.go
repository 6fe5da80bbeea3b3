package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type imageRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	N            int    `json:"n"`
	OutputFormat string `json:"output_format"`
	Background   string `json:"background,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// sizes maps aspect ratios to the sizes the image endpoint accepts.
var sizes = map[string]string{
	"1:1":  "1024x1024",
	"2:3":  "1024x1536",
	"3:4":  "1024x1536",
	"9:16": "1024x1536",
	"3:2":  "1536x1024",
	"4:3":  "1536x1024",
	"16:9": "1536x1024",
}

// GenerateImage requests a single base64 encoded PNG.
func (c *Client) GenerateImage(ctx context.Context, req providers.ImageRequest) (res domain.Result[[]byte]) {
	defer providers.Recover(&res, Name, c.logger)

	if err := providers.RequireModel(Name, req.Model); err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}

	size, ok := sizes[strings.TrimSpace(req.AspectRatio)]
	if !ok {
		size = "1024x1024"
	}
	payload := imageRequest{
		Model:        req.Model,
		Prompt:       strings.TrimSpace(req.Prompt) + "\nAvoid: " + providers.NegativePrompt(req.NegativePrompt),
		Size:         size,
		N:            1,
		OutputFormat: "png",
	}
	if req.ContentType == domain.ImageToken {
		payload.Background = "transparent"
	}
	ex, err := c.post(ctx, ep, "/images/generations", payload)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}
	var decoded imageResponse
	if err := json.Unmarshal(ex.Body, &decoded); err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].B64JSON) == "" {
		return domain.Failure[[]byte](Name+" API returned no image data", Name)
	}
	data, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("decode image data: %w", err))
	}
	providers.LogCall(c.logger, Name, req.Model, ex, decoded.Usage.InputTokens, decoded.Usage.OutputTokens, imagePricing(req.Model))
	return domain.Success(data)
}
