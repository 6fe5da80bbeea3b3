package stability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	src, err := config.NewStatic(config.ProviderSettings{
		Providers: map[string]config.Endpoint{
			"stability": {BaseURL: "https://stability.test", APIKey: "sk-test"},
		},
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	client, err := NewClient(Options{Settings: src, HTTPClient: &http.Client{Transport: rt}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateImageSendsMultipartAndReturnsRawBytes(t *testing.T) {
	t.Parallel()
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v2beta/stable-image/generate/sd3" {
			t.Fatalf("path = %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization = %q", got)
		}
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		checks := map[string]string{
			"prompt":        "An elven ranger",
			"model":         "sd3.5-large",
			"aspect_ratio":  "2:3",
			"output_format": "png",
			"cfg_scale":     "7",
		}
		for field, want := range checks {
			if got := req.FormValue(field); got != want {
				t.Fatalf("%s = %q, want %q", field, got, want)
			}
		}
		if neg := req.FormValue("negative_prompt"); !strings.HasPrefix(neg, "cartoon, ") || !strings.HasSuffix(neg, providers.GenericNegativePrompt) {
			t.Fatalf("negative_prompt = %q", neg)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"image/png"}, "Finish-Reason": []string{"SUCCESS"}},
			Body:       io.NopCloser(bytes.NewReader(png)),
		}, nil
	})

	res := client.GenerateImage(context.Background(), providers.ImageRequest{
		Model:          "sd3.5-large",
		Prompt:         "An elven ranger",
		NegativePrompt: "cartoon",
		AspectRatio:    "2:3",
	})
	if !res.IsSuccessful() {
		t.Fatalf("generate failed: %s", res.Message())
	}
	if !bytes.Equal(res.Value, png) {
		t.Fatalf("bytes = %v, want %v", res.Value, png)
	}
}

func TestGenerateImageNonSuccessCarriesStatus(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Status:     "429 Too Many Requests",
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"errors":["rate limited"]}`)),
		}, nil
	})
	res := client.GenerateImage(context.Background(), providers.ImageRequest{Model: "sd3.5-large", Prompt: "p"})
	if res.IsSuccessful() {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Message(), "429") {
		t.Fatalf("message %q should contain the status code", res.Message())
	}
	if res.Message() != "Stability API error 429: Too Many Requests" {
		t.Fatalf("message = %q", res.Message())
	}
}

func TestGenerateImageEmptyBody(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	})
	res := client.GenerateImage(context.Background(), providers.ImageRequest{Model: "sd3.5-large", Prompt: "p"})
	if res.Message() != "Stability API returned no image data" {
		t.Fatalf("message = %q", res.Message())
	}
}
