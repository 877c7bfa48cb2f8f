package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
)

// OpenAI is an adapter for the OpenAI chat completions API and any
// API-compatible endpoint.
type OpenAI struct {
	cfg         Config
	client      *http.Client
	initialized bool
}

// NewOpenAI creates the adapter. BaseURL defaults to the hosted API.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	p := &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	if err := cfg.validate(p.Capabilities()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *OpenAI) Name() string { return p.cfg.Name }

func (p *OpenAI) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		SupportsTemperature:    true,
		SupportsMaxTokens:      true,
		RequiresAPIKey:         true,
		SupportsModelDiscovery: true,
		DefaultRateLimit:       60,
		TracksTokenUsage:       true,
	}
}

func (p *OpenAI) Initialize(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return errs.Validationf("openai API key is required")
	}
	p.initialized = true
	logger.Info("openai provider initialized", "base_url", p.cfg.BaseURL)
	return nil
}

// reasoningModel reports whether the model is an o-series reasoning model,
// which rejects a custom temperature and uses max_completion_tokens.
func reasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3")
}

func (p *OpenAI) GenerateResponse(ctx context.Context, messages []Message, opts GenerateOptions) (string, Metadata, error) {
	if !p.initialized {
		return "", Metadata{}, fmt.Errorf("provider %s not initialized", p.cfg.Name)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	if opts.Temperature != nil && reasoningModel(model) {
		return "", Metadata{}, &errs.UnsupportedCapabilityError{
			Provider:   p.cfg.Name,
			Capability: "temperature",
			Detail:     fmt.Sprintf("model %q uses a fixed temperature", model),
		}
	}

	req := chatRequest{
		Model:    model,
		Messages: messages,
	}
	if reasoningModel(model) {
		req.MaxCompletionTokens = p.maxTokens(opts)
	} else {
		req.MaxTokens = p.maxTokens(opts)
		temp := p.cfg.DefaultTemperature
		if opts.Temperature != nil {
			temp = *opts.Temperature
		}
		req.Temperature = &temp
	}

	resp, err := chatCompletions(ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, req)
	if err != nil {
		return "", Metadata{}, err
	}

	meta := Metadata{
		TokensUsed:   resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: resp.Choices[0].FinishReason,
		ModelUsed:    model,
		Provider:     p.cfg.Name,
	}
	logger.Info("openai response generated", "model", model, "tokens", meta.TokensUsed)
	return resp.Choices[0].Message.Content, meta, nil
}

func (p *OpenAI) maxTokens(opts GenerateOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return p.cfg.DefaultMaxTokens
}

func (p *OpenAI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, err
	}

	var models []ModelInfo
	for _, m := range listResp.Data {
		// only chat-capable families; the endpoint also lists embedding,
		// audio, and moderation models
		if strings.HasPrefix(m.ID, "gpt") || reasoningModel(m.ID) {
			models = append(models, ModelInfo{ID: m.ID, Name: m.ID})
		}
	}
	return models, nil
}

func (p *OpenAI) ValidateModel(ctx context.Context, model string) bool {
	models, err := p.ListModels(ctx)
	if err != nil {
		// offline fallback: accept known-looking names
		return strings.HasPrefix(model, "gpt-") || reasoningModel(model)
	}
	for _, m := range models {
		if m.ID == model {
			return true
		}
	}
	return false
}

func (p *OpenAI) HealthCheck(ctx context.Context) (bool, string) {
	if !p.initialized {
		return false, "provider not initialized"
	}
	if _, err := p.ListModels(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// --- shared OpenAI-compatible wire types ---

type chatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxTokens           int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// apiStatusError preserves the HTTP status so callers can react to specific
// failures (the ollama adapter pulls a model on 404).
type apiStatusError struct {
	StatusCode int
	Body       string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Body)
}

// chatCompletions posts one chat completion request to an
// OpenAI-compatible endpoint. Shared by the openai and ollama adapters.
func chatCompletions(ctx context.Context, client *http.Client, baseURL, apiKey string, req chatRequest) (*chatResponse, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, &apiStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, err
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("api error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &chatResp, nil
}
