package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sharedHTTPClient is used by the HTTP providers; a 5-minute timeout covers slow LLM responses.
var sharedHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// defaultMaxTokens is the fallback when Request.MaxTokens is not set.
const defaultMaxTokens = 8192

// Request holds the parameters for an LLM completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// Model overrides the provider's configured model when non-empty.
	Model string
	// APIKey is the resolved credential for this call. Never logged.
	APIKey string `json:"-"`
	// JSON asks the provider for a JSON-only response when it supports it.
	JSON bool
}

// Response holds the result of an LLM completion call.
type Response struct {
	Content string
	Model   string // actual model used, echoed back for meta
}

// Provider is the interface for LLM completion backends.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// HTTPError is returned by the HTTP providers for non-200 responses.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// NewProvider parses a "provider:model" string and returns the appropriate Provider.
// Credentials are supplied per request, not at construction.
// Example: "gemini:gemini-2.5-flash", "anthropic:claude-sonnet-4-6" or "openai:gpt-4o".
func NewProvider(providerModel string) (Provider, error) {
	name, model, err := splitModel(providerModel)
	if err != nil {
		return nil, err
	}
	switch name {
	case "gemini":
		return &geminiProvider{model: model}, nil
	case "anthropic":
		return &anthropicProvider{model: model}, nil
	case "openai":
		return &openaiProvider{model: model}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q: supported providers are gemini, anthropic, openai", name)
	}
}

// KeyEnv returns the environment variable holding the default credential for
// the provider named in providerModel.
func KeyEnv(providerModel string) string {
	name, _, _ := splitModel(providerModel)
	switch name {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

func splitModel(providerModel string) (string, string, error) {
	parts := strings.SplitN(providerModel, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider:model (e.g. gemini:gemini-2.5-flash)", providerModel)
	}
	return parts[0], parts[1], nil
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
