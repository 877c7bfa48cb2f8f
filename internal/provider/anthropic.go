package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
)

const maxRetries = 3
const baseDelay = 2 * time.Second

// anthropicModels is the static catalog; the messages API has no
// model-listing endpoint.
var anthropicModels = []ModelInfo{
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000},
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", ContextWindow: 200000},
}

// Anthropic is an adapter for the Anthropic messages API.
type Anthropic struct {
	cfg         Config
	client      anthropic.Client
	initialized bool
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-sonnet-20241022"
	}

	p := &Anthropic{cfg: cfg}
	if err := cfg.validate(p.Capabilities()); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	p.client = anthropic.NewClient(opts...)
	return p, nil
}

func (p *Anthropic) Name() string { return p.cfg.Name }

func (p *Anthropic) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming: true,
		// system prompts ride a dedicated request field, not a message role
		SupportsSystemMessages: false,
		SupportsTemperature:    true,
		SupportsMaxTokens:      true,
		RequiresAPIKey:         true,
		DefaultRateLimit:       50,
		TracksTokenUsage:       true,
	}
}

func (p *Anthropic) Initialize(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return errs.Validationf("anthropic API key is required")
	}
	p.initialized = true
	logger.Info("anthropic provider initialized", "model", p.cfg.DefaultModel)
	return nil
}

func (p *Anthropic) GenerateResponse(ctx context.Context, messages []Message, opts GenerateOptions) (string, Metadata, error) {
	if !p.initialized {
		return "", Metadata{}, fmt.Errorf("provider %s not initialized", p.cfg.Name)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	var params []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case "user":
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return "", Metadata{}, &errs.UnsupportedCapabilityError{
				Provider:   p.cfg.Name,
				Capability: "system_messages",
				Detail:     fmt.Sprintf("role %q is not accepted; pass instructions in the user message", msg.Role),
			}
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}
	req := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokens),
		Messages:  params,
	}
	if opts.Temperature != nil {
		req.Temperature = anthropic.Float(*opts.Temperature)
	} else {
		req.Temperature = anthropic.Float(p.cfg.DefaultTemperature)
	}

	var resp *anthropic.Message
	var err error
	for attempt := range maxRetries {
		resp, err = p.client.Messages.New(ctx, req)
		if err == nil {
			break
		}
		if !isRetryableError(err) {
			return "", Metadata{}, err
		}
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<attempt)
			logger.Warn("anthropic request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
			time.Sleep(delay)
		}
	}
	if err != nil {
		return "", Metadata{}, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
		}
	}

	meta := Metadata{
		TokensUsed:   int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		FinishReason: string(resp.StopReason),
		ModelUsed:    model,
		Provider:     p.cfg.Name,
	}
	logger.Info("anthropic response generated", "model", model, "tokens", meta.TokensUsed)
	return text, meta, nil
}

func isRetryableError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "502")
}

func (p *Anthropic) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, len(anthropicModels))
	copy(models, anthropicModels)
	return models, nil
}

func (p *Anthropic) ValidateModel(ctx context.Context, model string) bool {
	for _, m := range anthropicModels {
		if m.ID == model {
			return true
		}
	}
	// accept dated variants of known families
	return strings.HasPrefix(model, "claude-")
}

func (p *Anthropic) HealthCheck(ctx context.Context) (bool, string) {
	if !p.initialized {
		return false, "provider not initialized"
	}
	if p.cfg.APIKey == "" {
		return false, "missing API key"
	}
	return true, ""
}
