// Package genai integrates the Google Gemini API: image generation through
// generateContent inline data, text and prompt enhancement, and Veo video
// generation through long-running operations.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// Name is the provider name used in configuration and routing.
const Name = "Google"

const defaultPollInterval = 10 * time.Second

// Options controls how the Gemini client is configured.
type Options struct {
	Settings     config.Source
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
}

// Client calls Gemini. Base URL and API key come from the provider
// configuration snapshot taken at the start of every call.
type Client struct {
	settings     config.Source
	httpClient   *http.Client
	logger       zerolog.Logger
	pollInterval time.Duration
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
	Temperature        float64      `json:"temperature,omitempty"`
	MaxOutputTokens    int          `json:"maxOutputTokens,omitempty"`
}

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

// NewClient constructs a Gemini client. A nil HTTP client gets a default one
// sized for image generation latency.
func NewClient(opts Options) (*Client, error) {
	if opts.Settings == nil {
		return nil, errors.New("genai: provider settings are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		settings:     opts.Settings,
		httpClient:   client,
		logger:       providers.ComponentLogger(opts.Logger, Name),
		pollInterval: poll,
	}, nil
}

// Name implements providers.Provider.
func (c *Client) Name() string {
	return Name
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, apiKey string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("genai: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("genai: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-goog-api-key", apiKey)
	return req, nil
}

func (c *Client) generateContent(ctx context.Context, ep config.Endpoint, model string, payload generateContentRequest) (providers.Exchange, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", ep.BaseURL, strings.TrimSpace(model))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, ep.APIKey, payload)
	if err != nil {
		return providers.Exchange{}, err
	}
	return providers.Send(c.httpClient, req)
}

func pricingFor(model string) providers.Pricing {
	switch {
	case strings.Contains(model, "image"):
		return providers.Pricing{InputPerMillion: 0.30, OutputPerMillion: 30}
	case strings.Contains(model, "pro"):
		return providers.Pricing{InputPerMillion: 1.25, OutputPerMillion: 10}
	default:
		return providers.Pricing{InputPerMillion: 0.30, OutputPerMillion: 2.50}
	}
}
