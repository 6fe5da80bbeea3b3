// Package qwen integrates the Alibaba DashScope Qwen text-to-image API. The
// API answers with an image URL which is downloaded before returning.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// Name is the provider name used in configuration and routing.
const Name = "Qwen"

const generatePath = "/services/aigc/multimodal-generation/generation"

// Options configures the DashScope Qwen client.
type Options struct {
	Settings       config.Source
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API.
type Client struct {
	settings     config.Source
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       zerolog.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// sizes maps aspect ratios to the resolutions qwen-image accepts.
var sizes = map[string]string{
	"1:1":  "1328*1328",
	"16:9": "1664*928",
	"9:16": "928*1664",
	"4:3":  "1472*1140",
	"3:4":  "1140*1472",
	"2:3":  "1140*1472",
	"3:2":  "1472*1140",
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if opts.Settings == nil {
		return nil, errors.New("qwen: provider settings are required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		settings:     opts.Settings,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       providers.ComponentLogger(opts.Logger, Name),
	}, nil
}

// Name implements providers.Provider.
func (c *Client) Name() string {
	return Name
}

// GenerateImage invokes the DashScope API once and downloads the produced image.
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
		size = sizes["1:1"]
	}
	payload := generationRequest{
		Model: req.Model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: strings.TrimSpace(req.Prompt)}},
			}},
		},
		Parameters: generationParams{
			NegativePrompt: providers.NegativePrompt(req.NegativePrompt),
			Size:           size,
		},
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("qwen: encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("qwen: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)

	ex, err := providers.Send(c.httpClient, httpReq)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}

	var decoded generationResponse
	if err := json.Unmarshal(ex.Body, &decoded); err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("qwen: decode response: %w", err))
	}
	if decoded.Code != "" {
		return domain.Failure[[]byte](fmt.Sprintf("%s API error %s: %s", Name, decoded.Code, decoded.Message), Name)
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return domain.Failure[[]byte](Name+" API returned no image data", Name)
	}
	downloaded := c.download(ctx, imageURL)
	if !downloaded.IsSuccessful() {
		return downloaded
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("request_id", decoded.RequestID).
		Str("url", imageURL).
		Msg("qwen: downloaded generated image")
	providers.LogCall(c.logger, Name, req.Model, ex, 0, 0, providers.Pricing{})
	return domain.Success(downloaded.Value)
}

func (c *Client) download(ctx context.Context, imageURL string) domain.Result[[]byte] {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return domain.Failure[[]byte](fmt.Sprintf("%s API returned an invalid image url: %s", Name, imageURL), Name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("qwen: build download request: %w", err))
	}
	ex, err := providers.Send(c.httpClient, req)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}
	if len(ex.Body) == 0 {
		return domain.Failure[[]byte](Name+" image download was empty", Name)
	}
	return domain.Success(ex.Body)
}

func firstImageURL(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}
