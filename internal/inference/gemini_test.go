package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

type capturedRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		MaxOutputTokens int     `json:"maxOutputTokens"`
		Temperature     float64 `json:"temperature"`
		TopK            float64 `json:"topK"`
	} `json:"generationConfig"`
}

const okBody = `{"candidates":[{"content":{"role":"model","parts":[{"text":"Here is my advice."}]},"finishReason":"STOP"}]}`

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(t *testing.T, baseURL string, timeout time.Duration) *Gemini {
	t.Helper()
	g, err := NewGemini(context.Background(), GeminiConfig{
		Options: Options{Model: "gemini-2.0-flash", Timeout: timeout},
		APIKey:  "test-key",
		BaseURL: baseURL,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("NewGemini error: %v", err)
	}
	return g
}

func sampleRequest() Request {
	return Request{
		System: "You are a broker.",
		Turns: []models.Turn{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "find me a villa"},
		},
		MaxOutputTokens: 500,
	}
}

func TestGeminiGenerateSendsRolesAndConfig(t *testing.T) {
	var (
		mu       sync.Mutex
		captured capturedRequest
		path     string
	)
	srv := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(body, &captured)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okBody)
	})
	g := newTestGemini(t, srv.URL, 2*time.Second)

	text, err := g.Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if text != "Here is my advice." {
		t.Fatalf("text = %q", text)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "gemini-2.0-flash:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" || captured.Contents[2].Role != "user" {
		t.Fatalf("unexpected roles: %+v", captured.Contents)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "You are a broker." {
		t.Fatalf("system instruction missing")
	}
	if captured.GenerationConfig.MaxOutputTokens != 500 || captured.GenerationConfig.TopK != 40 {
		t.Fatalf("unexpected generation config: %+v", captured.GenerationConfig)
	}
	if captured.GenerationConfig.Temperature < 0.69 || captured.GenerationConfig.Temperature > 0.71 {
		t.Fatalf("unexpected temperature: %v", captured.GenerationConfig.Temperature)
	}
}

func TestGeminiErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, ErrProviderUnavailable},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`, ErrProviderUnavailable},
		{"bad key", http.StatusForbidden, `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`, ErrProviderRejected},
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, ErrProviderRejected},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, ErrProviderRejected},
		{"safety stop", http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"x"}]},"finishReason":"SAFETY"}]}`, ErrProviderRejected},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, ErrProviderMalformedResponse},
		{"empty text", http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  "}]},"finishReason":"STOP"}]}`, ErrProviderMalformedResponse},
		{"not json", http.StatusOK, `<html>gateway</html>`, ErrProviderMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			g := newTestGemini(t, srv.URL, 2*time.Second)
			_, err := g.Generate(context.Background(), sampleRequest())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err != nil && strings.Contains(err.Error(), "test-key") {
				t.Fatalf("error leaked the api key: %v", err)
			}
		})
	}
}

func TestGeminiTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	g := newTestGemini(t, srv.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := g.Generate(context.Background(), sampleRequest())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout was not enforced")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}, logger.Nop()); err == nil {
		t.Fatalf("expected error without api key")
	}
}
