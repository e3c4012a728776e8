package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/retry"
)

// setupGeminiServer serves the Gemini REST API from handler and points the
// provider at it for the duration of the test.
func setupGeminiServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	prev := GeminiEndpoint()
	SetGeminiEndpoint(srv.URL)
	t.Cleanup(func() {
		SetGeminiEndpoint(prev)
		srv.Close()
	})
}

func geminiKey(r *http.Request) string {
	if k := r.URL.Query().Get("key"); k != "" {
		return k
	}
	return r.Header.Get("X-Goog-Api-Key")
}

func TestGeminiProvider_JSONModeKeyAndSystemInstruction(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	setupGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotKey = r.URL.Path, geminiKey(r)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"table14\":[]"},{"text":",\"table15\":[]}"}]}}]}]`)
	})

	p := &geminiProvider{model: "gemini-test"}
	resp, err := p.Complete(context.Background(), &Request{
		SystemPrompt: "You are a BRSR analyst.",
		UserPrompt:   "extract",
		APIKey:       "AIza-request-key",
		JSON:         true,
		MaxTokens:    1024,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"table14":[],"table15":[]}` {
		t.Errorf("content: %q", resp.Content)
	}
	if resp.Model != "gemini:gemini-test" {
		t.Errorf("model: %q", resp.Model)
	}
	if !strings.Contains(gotPath, "models/gemini-test:") {
		t.Errorf("path: %q", gotPath)
	}
	if gotKey != "AIza-request-key" {
		t.Errorf("request key not sent, got %q", gotKey)
	}
	gc, _ := gotBody["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Errorf("generationConfig: %v", gotBody["generationConfig"])
	}
	if gc["maxOutputTokens"] != float64(1024) {
		t.Errorf("maxOutputTokens: %v", gc["maxOutputTokens"])
	}
	si, _ := gotBody["systemInstruction"].(map[string]any)
	parts, _ := si["parts"].([]any)
	if len(parts) != 1 || parts[0].(map[string]any)["text"] != "You are a BRSR analyst." {
		t.Errorf("systemInstruction: %v", gotBody["systemInstruction"])
	}
}

func TestGeminiProvider_RateLimitClassifiedAndRetried(t *testing.T) {
	var hits atomic.Int32
	setupGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
			return
		}
		fmt.Fprint(w, `[{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"table14\":[],\"table15\":[]}"}]}}]}]`)
	})

	p := &geminiProvider{model: "gemini-test"}
	_, err := p.Complete(context.Background(), &Request{UserPrompt: "x", APIKey: "k"})
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected googleapi 429, got %v", err)
	}
	if !errors.Is(Classify(err), errs.ErrRateLimited) {
		t.Errorf("429 should classify as rate limited: %v", Classify(err))
	}

	s := &recordingSleeper{}
	c := NewClient(p, Config{
		DefaultAPIKey: "k",
		Retry:         retry.Policy{Attempts: 5, BaseDelay: 10 * time.Second, Multiplier: 2},
		Sleep:         s.Sleep,
	})
	v, err := c.Generate(context.Background(), "x", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := v.(map[string]any)["table14"]; !ok {
		t.Errorf("decoded value: %v", v)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
	if len(s.delays) != 1 || s.delays[0] != 10*time.Second {
		t.Errorf("delays = %v, want [10s]", s.delays)
	}
}

func TestGeminiProvider_ServerErrorIsUpstream(t *testing.T) {
	setupGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`)
	})

	p := &geminiProvider{model: "gemini-test"}
	_, err := p.Complete(context.Background(), &Request{UserPrompt: "x", APIKey: "bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	cerr := Classify(err)
	if IsRetryable(cerr) || !errors.Is(cerr, errs.ErrUpstream) {
		t.Errorf("400 should be a terminal upstream error, got %v", cerr)
	}
}
