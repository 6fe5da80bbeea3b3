package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
)

const maxErrorBody = 4 << 10

// Options configures one service client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Policy     Policy
	Logger     *infra.Logger
}

type serviceClient struct {
	service    string
	baseURL    string
	httpClient *http.Client
	policy     Policy
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

func newServiceClient(service string, opts Options) (*serviceClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("clients: %s base url is required", service)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "clients").Str("service", service).Logger()
	}
	return &serviceClient{
		service:    service,
		baseURL:    base,
		httpClient: httpClient,
		policy:     opts.Policy.withDefaults(),
		breaker:    newBreaker(service, logger),
		logger:     logger,
	}, nil
}

// send performs one logical call. The body is replayed on each attempt.
func (c *serviceClient) send(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	out, err := c.policy.run(ctx, c.breaker, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.once(ctx, method, path, body, contentType)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("clients: call failed")
		return nil, err
	}
	return out, nil
}

func (c *serviceClient) once(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &encodeError{fmt.Errorf("%s: build request: %w", c.service, err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Service: c.service, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.service, err)
	}
	return data, nil
}

// IsNotFound reports whether err is a 404 from a platform service.
func IsNotFound(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.Code == http.StatusNotFound
}
