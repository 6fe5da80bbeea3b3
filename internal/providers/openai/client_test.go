package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	src, err := config.NewStatic(config.ProviderSettings{
		Providers: map[string]config.Endpoint{"openai": {BaseURL: "https://openai.test/v1", APIKey: "sk-openai"}},
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	client, err := NewClient(Options{Settings: src, HTTPClient: &http.Client{Transport: rt}, Organization: "org-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateImageDecodesB64JSON(t *testing.T) {
	t.Parallel()
	want := []byte("png-bytes")
	var payload imageRequest
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/images/generations" {
			t.Fatalf("path = %s", req.URL.Path)
		}
		if req.Header.Get("OpenAI-Organization") != "org-1" {
			t.Fatalf("organization header missing")
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		resp := `{"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString(want) + `"}],"usage":{"input_tokens":50,"output_tokens":4000}}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(resp))}, nil
	})

	res := client.GenerateImage(context.Background(), providers.ImageRequest{
		Model:       "gpt-image-1",
		Prompt:      "goblin token",
		AspectRatio: "16:9",
		ContentType: domain.ImageToken,
	})
	if !res.IsSuccessful() {
		t.Fatalf("generate failed: %s", res.Message())
	}
	if !bytes.Equal(res.Value, want) {
		t.Fatalf("bytes = %q", res.Value)
	}
	if payload.Size != "1536x1024" || payload.Background != "transparent" || payload.N != 1 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestImagePricing(t *testing.T) {
	t.Parallel()
	if got := imagePricing("gpt-image-1").Cost(1_000_000, 1_000_000); got != 50 {
		t.Fatalf("gpt-image-1 cost = %v, want 50", got)
	}
	if got := imagePricing("gpt-image-1-mini").Cost(1_000_000, 1_000_000); got != 10.5 {
		t.Fatalf("other cost = %v, want 10.5", got)
	}
}

func TestEnhancePromptReadsOutputText(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/responses" {
			t.Fatalf("path = %s", req.URL.Path)
		}
		body := `{"output":[{"type":"reasoning","content":[]},{"type":"message","content":[{"type":"output_text","text":"\"A scarred orc chieftain\""}]}],"usage":{"input_tokens":40,"output_tokens":12}}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
	})
	res := client.EnhancePrompt(context.Background(), providers.PromptRequest{Model: "gpt-4o-mini", Prompt: "orc", TargetType: domain.ImagePortrait})
	if !res.IsSuccessful() {
		t.Fatalf("enhance failed: %s", res.Message())
	}
	if res.Value != "A scarred orc chieftain" {
		t.Fatalf("value = %q", res.Value)
	}
}

func TestGenerateTextServerError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway", Body: io.NopCloser(strings.NewReader("upstream"))}, nil
	})
	res := client.GenerateText(context.Background(), providers.TextRequest{Model: "gpt-4o-mini", Prompt: "describe"})
	if res.Message() != "OpenAI API error 502: Bad Gateway" {
		t.Fatalf("message = %q", res.Message())
	}
}
