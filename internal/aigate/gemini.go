package aigate

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flushguard/engine/internal/policy"
)

// GeminiConfig configures the Gemini-backed fallback provider.
type GeminiConfig struct {
	APIKey string
	Model  string // e.g. "gemini-2.0-flash"
	// Name overrides the provider name used for quota accounting.
	// Defaults to "fallback".
	Name string
}

// GeminiProvider classifies messages through the Gemini SDK.
type GeminiProvider struct {
	name   string
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiProvider builds a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("aigate: gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Name == "" {
		cfg.Name = "fallback"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("aigate: create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.1),
		TopP:            genai.Ptr[float32](0.9),
		MaxOutputTokens: genai.Ptr[int32](200),
	}

	return &GeminiProvider{name: cfg.Name, client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return p.name }

// Classify sends the message for classification and decodes the verdict.
func (p *GeminiProvider) Classify(ctx context.Context, text string) (policy.Verdict, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(buildPrompt(text)))
	if err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: gemini request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return policy.Verdict{}, fmt.Errorf("aigate: empty gemini response")
	}

	textPart, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return policy.Verdict{}, fmt.Errorf("aigate: unexpected gemini response type")
	}

	return parseVerdict(string(textPart))
}

// Close shuts down the underlying SDK client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
