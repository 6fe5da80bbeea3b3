// Package openai integrates the OpenAI Images API (gpt-image models, base64
// output) and the Responses API for prompt enhancement and free text.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// Name is the provider name used in configuration and routing.
const Name = "OpenAI"

// Options configures the OpenAI client.
type Options struct {
	Settings     config.Source
	HTTPClient   *http.Client
	Logger       *infra.Logger
	Organization string
}

// Client calls the OpenAI REST API.
type Client struct {
	settings     config.Source
	httpClient   *http.Client
	logger       zerolog.Logger
	organization string
}

// NewClient constructs an OpenAI client.
func NewClient(opts Options) (*Client, error) {
	if opts.Settings == nil {
		return nil, errors.New("openai: provider settings are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		settings:     opts.Settings,
		httpClient:   client,
		logger:       providers.ComponentLogger(opts.Logger, Name),
		organization: strings.TrimSpace(opts.Organization),
	}, nil
}

// Name implements providers.Provider.
func (c *Client) Name() string {
	return Name
}

func (c *Client) post(ctx context.Context, ep config.Endpoint, path string, payload any) (providers.Exchange, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return providers.Exchange{}, fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return providers.Exchange{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
	return providers.Send(c.httpClient, req)
}

func imagePricing(model string) providers.Pricing {
	if model == "gpt-image-1" {
		return providers.Pricing{InputPerMillion: 10, OutputPerMillion: 40}
	}
	return providers.Pricing{InputPerMillion: 2.5, OutputPerMillion: 8}
}

func textPricing(model string) providers.Pricing {
	switch {
	case strings.HasPrefix(model, "gpt-4o-mini"):
		return providers.Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.60}
	case strings.HasPrefix(model, "gpt-4.1-mini"):
		return providers.Pricing{InputPerMillion: 0.40, OutputPerMillion: 1.60}
	default:
		return providers.Pricing{InputPerMillion: 2.5, OutputPerMillion: 10}
	}
}
