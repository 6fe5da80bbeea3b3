package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// maxResponseBytes caps how much of a vendor response is buffered.
const maxResponseBytes = 64 << 20

// Pricing holds per-million-token rates in USD.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost estimates the price of a call from its token usage.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion + float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// ResolveEndpoint reads the connection settings of provider from a fresh snapshot.
func ResolveEndpoint(settings config.Source, provider string) (config.Endpoint, error) {
	ep, ok := settings.Snapshot().Endpoint(provider)
	if !ok {
		return config.Endpoint{}, &lookupError{
			kind: ErrNotConfigured,
			msg:  fmt.Sprintf("%s provider is not configured", provider),
		}
	}
	return ep, nil
}

// RequireModel fails when no model was resolved for the call.
func RequireModel(provider, model string) error {
	if strings.TrimSpace(model) == "" {
		return &lookupError{kind: ErrModelRequired, msg: fmt.Sprintf("model is required for %s", provider)}
	}
	return nil
}

// Exchange is one completed HTTP round trip.
type Exchange struct {
	Status  int
	Reason  string
	Header  http.Header
	Body    []byte
	Elapsed time.Duration
}

// OK reports a 2xx status.
func (e Exchange) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Send performs req once and buffers the response body.
func Send(client *http.Client, req *http.Request) (Exchange, error) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Exchange{Elapsed: time.Since(start)}, err
	}
	defer resp.Body.Close()
	body, err := readLimited(resp.Body, maxResponseBytes)
	ex := Exchange{
		Status:  resp.StatusCode,
		Reason:  reasonPhrase(resp),
		Header:  resp.Header,
		Body:    body,
		Elapsed: time.Since(start),
	}
	return ex, err
}

// ErrResponseTooLarge is returned when a vendor response exceeds maxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// readLimited reads at most limit bytes and fails instead of truncating.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}
	return body, nil
}

func reasonPhrase(resp *http.Response) string {
	if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// StatusFailure logs a non-success response and turns it into a failed result.
func StatusFailure[T any](logger zerolog.Logger, vendor string, ex Exchange) domain.Result[T] {
	logger.Warn().
		Int("status", ex.Status).
		Str("reason", ex.Reason).
		Str("body", truncate(string(ex.Body), 512)).
		Dur("elapsed", ex.Elapsed).
		Msgf("%s: request rejected", strings.ToLower(vendor))
	return domain.Failure[T](fmt.Sprintf("%s API error %d: %s", vendor, ex.Status, ex.Reason), vendor)
}

// Fail converts an error into a failed result. Configuration errors keep
// their message; everything else is classified.
func Fail[T any](provider string, err error) domain.Result[T] {
	var le *lookupError
	if errors.As(err, &le) {
		return domain.Failure[T](le.Error(), provider)
	}
	return domain.Failure[T](Classify(err), provider)
}

// Classify prefixes an error message with its failure class.
func Classify(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		b64Err    base64.CorruptInputError
		urlErr    *url.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &b64Err):
		return "JSON deserialization error: " + err.Error()
	case errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		return "Network error: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}

// Recover turns a panic inside a provider call into a failed result.
// Use it deferred with a named result.
func Recover[T any](res *domain.Result[T], provider string, logger zerolog.Logger) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error().Interface("panic", r).Str("provider", provider).Msg("provider call panicked")
	*res = domain.Failure[T](fmt.Sprintf("Unexpected error: %v", r), provider)
}

// LogCall records the outcome of a successful vendor call.
func LogCall(logger zerolog.Logger, provider, model string, ex Exchange, inputTokens, outputTokens int, pricing Pricing) {
	evt := logger.Info().
		Str("provider", provider).
		Str("model", model).
		Dur("elapsed", ex.Elapsed).
		Int("bytes", len(ex.Body))
	if inputTokens > 0 || outputTokens > 0 {
		evt = evt.Int("input_tokens", inputTokens).
			Int("output_tokens", outputTokens).
			Float64("estimated_cost_usd", pricing.Cost(inputTokens, outputTokens))
	}
	evt.Msg("provider call completed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
