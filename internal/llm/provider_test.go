package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/joescharf/codereview/internal/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"nil", nil, retry.Permanent},
		{"status 429", &StatusError{Code: 429}, retry.RateLimited},
		{"resource exhausted text", &StatusError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, retry.RateLimited},
		{"status 503", &StatusError{Code: 503}, retry.Transient},
		{"status 500 wrapped", fmt.Errorf("call: %w", &StatusError{Code: 500}), retry.Transient},
		{"status 400", &StatusError{Code: 400}, retry.Permanent},
		{"status 401", &StatusError{Code: 401}, retry.Permanent},
		{"genai 429", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, retry.RateLimited},
		{"genai 503", fmt.Errorf("gemini generate: %w", genai.APIError{Code: 503, Status: "UNAVAILABLE"}), retry.Transient},
		{"genai 403", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, retry.Permanent},
		{"deadline", context.DeadlineExceeded, retry.Transient},
		{"unknown", errors.New("boom"), retry.Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestParts(t *testing.T) {
	assert.False(t, TextPart("hi").IsBlob())
	b := BlobPart([]byte{1, 2, 3}, "image/png")
	assert.True(t, b.IsBlob())
	assert.Equal(t, "AQID", b.base64())
}

// --- Gemini ---

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL + "/",
	})
	require.NoError(t, err)
	return p
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	require.Error(t, err)
}

func TestGeminiProvider_Generate(t *testing.T) {
	var gotBody map[string]any
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-test:generateContent"), r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"issues\":[]}"}]}}]}`)
	})

	out, err := p.Generate(context.Background(), Request{
		System: "be strict",
		Parts:  []Part{TextPart("review this")},
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"issues":[]}`, out)
	assert.Equal(t, "gemini", p.Name())

	genCfg, _ := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
	assert.NotNil(t, gotBody["systemInstruction"])
}

func TestGeminiProvider_RateLimitClassified(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := p.Generate(context.Background(), Request{Parts: []Part{TextPart("x")}})
	require.Error(t, err)
	assert.Equal(t, retry.RateLimited, Classify(err))
}

func TestGeminiProvider_ServerErrorClassified(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)
	})

	_, err := p.Generate(context.Background(), Request{Parts: []Part{TextPart("x")}})
	require.Error(t, err)
	assert.Equal(t, retry.Transient, Classify(err))
}

// --- Anthropic ---

func TestAnthropicProvider_Generate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"issues\":[]}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`)
	}))
	t.Cleanup(srv.Close)

	p := NewAnthropicProvider("test-key", "claude-test", srv.URL+"/")
	out, err := p.Generate(context.Background(), Request{
		System: "be strict",
		Parts:  []Part{TextPart("review"), BlobPart([]byte{0x89, 'P', 'N', 'G'}, "image/png")},
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"issues":[]}`, out)
	assert.Equal(t, "anthropic", p.Name())

	system, _ := gotBody["system"].([]any)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "JSON object")
}

func TestAnthropicProvider_RateLimitClassified(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	t.Cleanup(srv.Close)

	p := NewAnthropicProvider("test-key", "claude-test", srv.URL+"/")
	_, err := p.Generate(context.Background(), Request{Parts: []Part{TextPart("x")}})
	require.Error(t, err)
	assert.Equal(t, retry.RateLimited, Classify(err))
	assert.Equal(t, 1, calls, "SDK retries must be disabled")
}
