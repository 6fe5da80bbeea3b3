// Package stability integrates the Stability AI Stable Image SD3 endpoint.
// Requests are multipart forms and a successful response body is the raw
// image.
package stability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// Name is the provider name used in configuration and routing.
const Name = "Stability"

const (
	generatePath  = "/v2beta/stable-image/generate/sd3"
	outputFormat  = "png"
	guidanceScale = 7.0
)

// Options configures the Stability client.
type Options struct {
	Settings   config.Source
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the Stability REST API.
type Client struct {
	settings   config.Source
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs a Stability client.
func NewClient(opts Options) (*Client, error) {
	if opts.Settings == nil {
		return nil, errors.New("stability: provider settings are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
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

// GenerateImage posts the prompt as a multipart form and returns the image bytes.
func (c *Client) GenerateImage(ctx context.Context, req providers.ImageRequest) (res domain.Result[[]byte]) {
	defer providers.Recover(&res, Name, c.logger)

	if err := providers.RequireModel(Name, req.Model); err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}

	body, contentType, err := encodeForm(map[string]string{
		"prompt":          strings.TrimSpace(req.Prompt),
		"negative_prompt": providers.NegativePrompt(req.NegativePrompt),
		"aspect_ratio":    providers.Coalesce(req.AspectRatio, "1:1"),
		"model":           strings.TrimSpace(req.Model),
		"output_format":   outputFormat,
		"cfg_scale":       strconv.FormatFloat(guidanceScale, 'f', -1, 64),
	})
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+generatePath, body)
	if err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("stability: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "image/*")
	httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)

	ex, err := providers.Send(c.httpClient, httpReq)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}
	if len(ex.Body) == 0 {
		return domain.Failure[[]byte](Name+" API returned no image data", Name)
	}
	if ct := ex.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		return domain.Failure[[]byte](Name+" API returned JSON instead of an image", Name)
	}
	if reason := ex.Header.Get("finish-reason"); reason != "" && reason != "SUCCESS" {
		return domain.Failure[[]byte](fmt.Sprintf("%s API finished with %s", Name, reason), Name)
	}

	providers.LogCall(c.logger, Name, req.Model, ex, 0, 0, providers.Pricing{})
	return domain.Success(ex.Body)
}

func encodeForm(fields map[string]string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, key := range []string{"prompt", "negative_prompt", "aspect_ratio", "model", "output_format", "cfg_scale"} {
		value, ok := fields[key]
		if !ok || value == "" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("stability: write field %s: %w", key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("stability: close form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
