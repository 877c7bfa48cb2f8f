package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
)

// Ollama is an adapter for a local Ollama daemon. Chat goes through the
// daemon's OpenAI-compatible endpoint; model management uses the native API.
type Ollama struct {
	cfg         Config
	client      *http.Client
	pullClient  *http.Client
	initialized bool
}

func NewOllama(cfg Config) (*Ollama, error) {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = "ollama"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3.2"
	}

	p := &Ollama{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		pullClient: &http.Client{Timeout: cfg.ProvisionTimeout},
	}
	if err := cfg.validate(p.Capabilities()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Ollama) Name() string { return p.cfg.Name }

func (p *Ollama) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:          true,
		SupportsSystemMessages:     true,
		SupportsTemperature:        true,
		SupportsMaxTokens:          true,
		SupportsLocalAutoProvision: true,
		SupportsModelDiscovery:     true,
		TracksTokenUsage:           true,
	}
}

func (p *Ollama) Initialize(ctx context.Context) error {
	p.initialized = true
	if healthy, msg := p.HealthCheck(ctx); !healthy {
		logger.Warn("ollama daemon not reachable", "base_url", p.cfg.BaseURL, "reason", msg)
	}
	return nil
}

func (p *Ollama) GenerateResponse(ctx context.Context, messages []Message, opts GenerateOptions) (string, Metadata, error) {
	if !p.initialized {
		return "", Metadata{}, fmt.Errorf("provider %s not initialized", p.cfg.Name)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	temp := p.cfg.DefaultTemperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   maxTokens,
	}

	if present, checkErr := p.HasModel(ctx, model); checkErr == nil && !present {
		logger.Info("model not present locally, pulling", "model", model)
		if pullErr := p.Pull(ctx, model); pullErr != nil {
			return "", Metadata{}, pullErr
		}
	}

	resp, err := chatCompletions(ctx, p.client, p.cfg.BaseURL+"/v1", "ollama", req)
	if err != nil && missingModel(err) {
		// the tag listing can lag behind the daemon
		logger.Info("model rejected by daemon, pulling", "model", model)
		if pullErr := p.Pull(ctx, model); pullErr != nil {
			return "", Metadata{}, pullErr
		}
		resp, err = chatCompletions(ctx, p.client, p.cfg.BaseURL+"/v1", "ollama", req)
	}
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
	logger.Info("ollama response generated", "model", model, "tokens", meta.TokensUsed)
	return resp.Choices[0].Message.Content, meta, nil
}

// missingModel reports whether the error indicates the requested model is
// not loaded on the daemon.
func missingModel(err error) bool {
	var statusErr *apiStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 404 ||
			strings.Contains(statusErr.Body, "not found")
	}
	return false
}

// Pull downloads a model through the native API. Uses the longer
// provisioning timeout since downloads can take minutes.
func (p *Ollama) Pull(ctx context.Context, model string) error {
	jsonBody, err := json.Marshal(map[string]any{"name": model, "stream": false})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/api/pull", bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.pullClient.Do(req)
	if err != nil {
		return &errs.ModelProvisioningError{Provider: p.cfg.Name, Model: model, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.ModelProvisioningError{Provider: p.cfg.Name, Model: model, Reason: err.Error()}
	}
	if resp.StatusCode != 200 {
		return &errs.ModelProvisioningError{
			Provider: p.cfg.Name,
			Model:    model,
			Reason:   fmt.Sprintf("pull failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	var pullResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &pullResp); err == nil && pullResp.Status != "success" && pullResp.Status != "" {
		return &errs.ModelProvisioningError{
			Provider: p.cfg.Name,
			Model:    model,
			Reason:   fmt.Sprintf("pull ended with status %q", pullResp.Status),
		}
	}

	logger.Info("model pulled", "model", model)
	return nil
}

func (p *Ollama) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

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

	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(tagsResp.Models))
	for _, m := range tagsResp.Models {
		models = append(models, ModelInfo{ID: m.Name, Name: m.Name, Local: true})
	}
	return models, nil
}

func (p *Ollama) ValidateModel(ctx context.Context, model string) bool {
	// any model name is provisionable; reject only the obviously malformed
	return model != "" && !strings.ContainsAny(model, " \t\n")
}

// HasModel reports whether the model is already present on the daemon.
func (p *Ollama) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := p.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.ID == model || strings.TrimSuffix(m.ID, ":latest") == model {
			return true, nil
		}
	}
	return false, nil
}

func (p *Ollama) HealthCheck(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("daemon unreachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		return false, fmt.Sprintf("daemon returned status %d", resp.StatusCode)
	}
	return true, ""
}
