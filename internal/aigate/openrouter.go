package aigate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flushguard/engine/internal/policy"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures the OpenRouter-backed provider.
type OpenRouterConfig struct {
	APIKey string
	Model  string // e.g. "x-ai/grok-2-1212"
	// Name overrides the provider name used for quota accounting.
	// Defaults to "primary".
	Name string
}

// OpenRouterProvider classifies messages through the OpenRouter
// chat-completions API.
type OpenRouterProvider struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenRouterProvider builds an OpenRouter provider.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("aigate: openrouter API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "x-ai/grok-2-1212"
	}
	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	return &OpenRouterProvider{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    openRouterBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *OpenRouterProvider) Name() string { return p.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Classify sends the message for classification and decodes the verdict.
func (p *OpenRouterProvider) Classify(ctx context.Context, text string) (policy.Verdict, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: buildPrompt(text)},
		},
		Temperature: 0.1,
		MaxTokens:   200,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: openrouter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return policy.Verdict{}, fmt.Errorf("aigate: openrouter status %d: %s", resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: decode response: %w", err)
	}
	if apiResp.Error != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: openrouter error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return policy.Verdict{}, fmt.Errorf("aigate: empty openrouter response")
	}

	return parseVerdict(apiResp.Choices[0].Message.Content)
}

// Close releases idle connections.
func (p *OpenRouterProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
