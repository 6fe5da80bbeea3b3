// Package elevenlabs integrates the ElevenLabs sound generation endpoint,
// which turns a text prompt into an MPEG audio clip.
package elevenlabs

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
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// Name is the provider name used in configuration and routing.
const Name = "ElevenLabs"

const (
	soundPath       = "/v1/sound-generation"
	promptInfluence = 0.3
	maxDuration     = 30.0
	minDuration     = 0.5
)

// Options configures the ElevenLabs client.
type Options struct {
	Settings   config.Source
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the ElevenLabs REST API.
type Client struct {
	settings   config.Source
	httpClient *http.Client
	logger     zerolog.Logger
}

type soundRequest struct {
	Text            string   `json:"text"`
	ModelID         string   `json:"model_id,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	PromptInfluence float64  `json:"prompt_influence"`
	Loop            bool     `json:"loop,omitempty"`
}

// NewClient constructs an ElevenLabs client.
func NewClient(opts Options) (*Client, error) {
	if opts.Settings == nil {
		return nil, errors.New("elevenlabs: provider settings are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		settings:   opts.Settings,
		httpClient: client,
		logger:     providers.ComponentLogger(opts.Logger, Name),
	}, nil
}

// Name implements providers.Provider.
func (c *Client) Name() string {
	return Name
}

// GenerateAudio returns the raw MPEG bytes of a generated sound.
func (c *Client) GenerateAudio(ctx context.Context, req providers.AudioRequest) (res domain.Result[[]byte]) {
	defer providers.Recover(&res, Name, c.logger)

	if err := providers.RequireModel(Name, req.Model); err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}

	payload := soundRequest{
		Text:            strings.TrimSpace(req.Prompt),
		ModelID:         req.Model,
		PromptInfluence: promptInfluence,
		Loop:            req.Loop || req.ContentType == domain.AudioAmbient,
	}
	if d := clampDuration(req.DurationSeconds); d > 0 {
		payload.DurationSeconds = &d
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("elevenlabs: encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+soundPath, bytes.NewReader(raw))
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("elevenlabs: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", ep.APIKey)

	ex, err := providers.Send(c.httpClient, httpReq)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}
	if len(ex.Body) == 0 {
		return domain.Failure[[]byte](Name+" API returned no audio data", Name)
	}
	providers.LogCall(c.logger, Name, req.Model, ex, 0, 0, providers.Pricing{})
	return domain.Success(ex.Body)
}

func clampDuration(d float64) float64 {
	switch {
	case d <= 0:
		return 0
	case d < minDuration:
		return minDuration
	case d > maxDuration:
		return maxDuration
	}
	return d
}
