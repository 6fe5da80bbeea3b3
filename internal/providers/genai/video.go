package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type predictRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type videoInstance struct {
	Prompt string `json:"prompt"`
}

type videoParameters struct {
	AspectRatio    string `json:"aspectRatio,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// GenerateVideo starts a Veo long-running operation, polls it until done and
// downloads the first generated sample.
func (c *Client) GenerateVideo(ctx context.Context, req providers.VideoRequest) (res domain.Result[[]byte]) {
	defer providers.Recover(&res, Name, c.logger)

	if err := providers.RequireModel(Name, req.Model); err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ep, err := providers.ResolveEndpoint(c.settings, Name)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}

	started := time.Now()
	payload := predictRequest{
		Instances: []videoInstance{{Prompt: strings.TrimSpace(req.Prompt)}},
		Parameters: videoParameters{
			AspectRatio:    providers.Coalesce(req.AspectRatio, "16:9"),
			NegativePrompt: providers.NegativePrompt(req.NegativePrompt),
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", ep.BaseURL, strings.TrimSpace(req.Model))
	httpReq, err := c.newRequest(ctx, http.MethodPost, endpoint, ep.APIKey, payload)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	ex, err := providers.Send(c.httpClient, httpReq)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !ex.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, ex)
	}
	var op operation
	if err := json.Unmarshal(ex.Body, &op); err != nil {
		return providers.Fail[[]byte](Name, fmt.Errorf("decode operation: %w", err))
	}
	if strings.TrimSpace(op.Name) == "" {
		return domain.Failure[[]byte](Name+" API returned no operation name", Name)
	}
	c.logger.Debug().Str("operation", op.Name).Msg("genai: video operation started")

	op, res = c.await(ctx, ep, op)
	if !res.IsSuccessful() {
		return res
	}
	if op.Error != nil {
		return domain.Failure[[]byte](fmt.Sprintf("%s video operation failed %d: %s", Name, op.Error.Code, op.Error.Message), Name)
	}
	uri := firstVideoURI(op)
	if uri == "" {
		return domain.Failure[[]byte](Name+" API returned no video data", Name)
	}

	dlReq, err := c.newRequest(ctx, http.MethodGet, uri, ep.APIKey, nil)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	dl, err := providers.Send(c.httpClient, dlReq)
	if err != nil {
		return providers.Fail[[]byte](Name, err)
	}
	if !dl.OK() {
		return providers.StatusFailure[[]byte](c.logger, Name, dl)
	}
	if len(dl.Body) == 0 {
		return domain.Failure[[]byte](Name+" API returned an empty video", Name)
	}
	dl.Elapsed = time.Since(started)
	providers.LogCall(c.logger, Name, req.Model, dl, 0, 0, providers.Pricing{})
	return domain.Success(dl.Body)
}

func (c *Client) await(ctx context.Context, ep config.Endpoint, op operation) (operation, domain.Result[[]byte]) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return op, providers.Fail[[]byte](Name, ctx.Err())
		case <-ticker.C:
		}
		req, err := c.newRequest(ctx, http.MethodGet, ep.BaseURL+"/"+strings.TrimLeft(op.Name, "/"), ep.APIKey, nil)
		if err != nil {
			return op, providers.Fail[[]byte](Name, err)
		}
		ex, err := providers.Send(c.httpClient, req)
		if err != nil {
			return op, providers.Fail[[]byte](Name, err)
		}
		if !ex.OK() {
			return op, providers.StatusFailure[[]byte](c.logger, Name, ex)
		}
		var next operation
		if err := json.Unmarshal(ex.Body, &next); err != nil {
			return op, providers.Fail[[]byte](Name, fmt.Errorf("decode operation: %w", err))
		}
		if next.Name == "" {
			next.Name = op.Name
		}
		op = next
	}
	return op, domain.Success[[]byte](nil)
}

func firstVideoURI(op operation) string {
	if op.Response == nil {
		return ""
	}
	for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
		if uri := strings.TrimSpace(sample.Video.URI); uri != "" {
			return uri
		}
	}
	return ""
}
