package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, rt roundTripFunc, withEndpoint bool) *Client {
	t.Helper()
	settings := config.ProviderSettings{}
	if withEndpoint {
		settings.Providers = map[string]config.Endpoint{
			"google": {BaseURL: "https://gemini.test/v1beta", APIKey: "test-key"},
		}
	}
	src, err := config.NewStatic(settings)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	client, err := NewClient(Options{
		Settings:     src,
		HTTPClient:   &http.Client{Transport: rt},
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateImageDecodesInlineData(t *testing.T) {
	t.Parallel()
	want := []byte{0x89, 'P', 'N', 'G', 0x01}
	var captured map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1beta/models/gemini-2.5-flash-image:generateContent" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if got := req.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Fatalf("api key header = %q", got)
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, `{
			"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"`+base64.StdEncoding.EncodeToString(want)+`"}}]}}],
			"usageMetadata":{"promptTokenCount":120,"candidatesTokenCount":1290}
		}`), nil
	}, true)

	res := client.GenerateImage(context.Background(), providers.ImageRequest{
		Model:       "gemini-2.5-flash-image",
		Prompt:      "A fantasy dwarf named Borin",
		AspectRatio: "2:3",
	})
	if !res.IsSuccessful() {
		t.Fatalf("generate image failed: %s", res.Message())
	}
	if !bytes.Equal(res.Value, want) {
		t.Fatalf("bytes = %v, want %v", res.Value, want)
	}
	cfg := captured["generationConfig"].(map[string]any)
	if modalities := cfg["responseModalities"].([]any); len(modalities) != 1 || modalities[0] != "IMAGE" {
		t.Fatalf("responseModalities = %v", modalities)
	}
	if ratio := cfg["imageConfig"].(map[string]any)["aspectRatio"]; ratio != "2:3" {
		t.Fatalf("aspectRatio = %v, want 2:3", ratio)
	}
	text := captured["contents"].([]any)[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, providers.GenericNegativePrompt) {
		t.Fatalf("prompt text misses negative suffix: %q", text)
	}
}

func TestGenerateImageFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		model        string
		withEndpoint bool
		status       int
		body         string
		wantPrefix   string
	}{
		{name: "rate limited", model: "m", withEndpoint: true, status: http.StatusTooManyRequests, body: `{"error":{}}`, wantPrefix: "Google API error 429: Too Many Requests"},
		{name: "no image", model: "m", withEndpoint: true, status: http.StatusOK, body: `{"candidates":[]}`, wantPrefix: "Google API returned no image data"},
		{name: "malformed", model: "m", withEndpoint: true, status: http.StatusOK, body: `{"candidates":`, wantPrefix: "JSON deserialization error: "},
		{name: "bad base64", model: "m", withEndpoint: true, status: http.StatusOK, body: `{"candidates":[{"content":{"parts":[{"inlineData":{"data":"***"}}]}}]}`, wantPrefix: "JSON deserialization error: "},
		{name: "missing model", withEndpoint: true, wantPrefix: "model is required for Google"},
		{name: "not configured", model: "m", wantPrefix: "Google provider is not configured"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			client := newTestClient(t, func(*http.Request) (*http.Response, error) {
				calls++
				return jsonResponse(tt.status, tt.body), nil
			}, tt.withEndpoint)
			res := client.GenerateImage(context.Background(), providers.ImageRequest{Model: tt.model, Prompt: "p"})
			if res.IsSuccessful() {
				t.Fatalf("expected failure")
			}
			if !strings.HasPrefix(res.Message(), tt.wantPrefix) {
				t.Fatalf("message = %q, want prefix %q", res.Message(), tt.wantPrefix)
			}
			if tt.status == 0 && calls != 0 {
				t.Fatalf("configuration failures must not reach the vendor")
			}
		})
	}
}

func TestGenerateImageNetworkError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}, true)
	res := client.GenerateImage(context.Background(), providers.ImageRequest{Model: "m", Prompt: "p"})
	if !strings.HasPrefix(res.Message(), "Network error: ") {
		t.Fatalf("message = %q", res.Message())
	}
}

func TestEnhancePromptCleansOutput(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), "systemInstruction") {
			t.Fatalf("expected system instruction in %s", body)
		}
		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"`+"```"+`\nA grizzled dwarf warrior\n`+"```"+`"}]}}]}`), nil
	}, true)
	res := client.EnhancePrompt(context.Background(), providers.PromptRequest{Model: "gemini-2.5-flash", Prompt: "dwarf"})
	if !res.IsSuccessful() {
		t.Fatalf("enhance failed: %s", res.Message())
	}
	if res.Value != "A grizzled dwarf warrior" {
		t.Fatalf("value = %q", res.Value)
	}
}

func TestGenerateVideoPollsOperation(t *testing.T) {
	t.Parallel()
	polls := 0
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, ":predictLongRunning"):
			return jsonResponse(http.StatusOK, `{"name":"models/veo-3.0/operations/op1"}`), nil
		case req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/operations/op1"):
			polls++
			if polls < 2 {
				return jsonResponse(http.StatusOK, `{"name":"models/veo-3.0/operations/op1","done":false}`), nil
			}
			return jsonResponse(http.StatusOK, `{"done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://gemini.test/files/v1:download"}}]}}}`), nil
		case req.URL.Path == "/files/v1:download":
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader([]byte("mp4")))}, nil
		}
		t.Fatalf("unexpected %s %s", req.Method, req.URL)
		return nil, nil
	}, true)

	res := client.GenerateVideo(context.Background(), providers.VideoRequest{Model: "veo-3.0", Prompt: "torch-lit dungeon"})
	if !res.IsSuccessful() {
		t.Fatalf("generate video failed: %s", res.Message())
	}
	if string(res.Value) != "mp4" || polls != 2 {
		t.Fatalf("value = %q polls = %d", res.Value, polls)
	}
}
