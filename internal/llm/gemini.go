package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiEndpoint is a var to allow test overrides; empty means the SDK default.
var geminiEndpoint = ""

// GeminiEndpoint returns the current Gemini endpoint override.
func GeminiEndpoint() string { return geminiEndpoint }

// SetGeminiEndpoint overrides the Gemini API endpoint.
// Intended for use in tests only.
func SetGeminiEndpoint(u string) { geminiEndpoint = u }

type geminiProvider struct {
	model string
}

// Complete opens a client for the request's credential, since the key can
// differ per call, and issues a single GenerateContent.
func (p *geminiProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	opts := []option.ClientOption{option.WithAPIKey(req.APIKey)}
	if geminiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(geminiEndpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	defer client.Close()

	gm := client.GenerativeModel(model)
	if req.JSON {
		gm.ResponseMIMEType = "application/json"
	}
	if req.Temperature != 0 {
		gm.SetTemperature(float32(req.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	gm.SetMaxOutputTokens(int32(maxTokens))
	if req.SystemPrompt != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	content, err := geminiText(resp)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content: content,
		Model:   fmt.Sprintf("gemini:%s", model),
	}, nil
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil {
			return "", fmt.Errorf("gemini: no candidates (block reason %s)", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("gemini: empty candidate (finish reason %s)", cand.FinishReason)
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: no text content in response (got %d parts)", len(cand.Content.Parts))
	}
	return sb.String(), nil
}
