// Package dispatch runs the retrieval-and-dispatch pipeline: rank stored
// context against a task, compose a prompt, send it to a provider with
// fallback, and persist the exchange.
package dispatch

import (
	"context"
	"time"

	"github.com/contextpilot/contextpilot/internal/composer"
	"github.com/contextpilot/contextpilot/internal/conversation"
	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/model"
	"github.com/contextpilot/contextpilot/internal/provider"
	"github.com/contextpilot/contextpilot/internal/relevance"
	"github.com/contextpilot/contextpilot/internal/store"
)

// DefaultMaxContext bounds how many units feed a prompt unless the caller
// asks otherwise.
const DefaultMaxContext = 5

// defaultChain is the fallback order when the caller does not pin a provider.
var defaultChain = []string{"openai", "anthropic", "ollama"}

type Service struct {
	store         store.Store
	engine        *relevance.Engine
	registry      *provider.Registry
	conversations *conversation.Store
	chain         []string
	now           func() time.Time
}

func NewService(st store.Store, engine *relevance.Engine, reg *provider.Registry, convs *conversation.Store) *Service {
	return &Service{
		store:         st,
		engine:        engine,
		registry:      reg,
		conversations: convs,
		chain:         defaultChain,
		now:           time.Now,
	}
}

// Request describes one dispatch.
type Request struct {
	Task        string
	Layout      composer.Layout // default full
	MaxContext  int             // default DefaultMaxContext
	Provider    string          // empty means walk the fallback chain
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Preview is what Compose produced for a task, without calling a provider.
type Preview struct {
	Prompt string             `json:"prompt"`
	Units  []model.RankedUnit `json:"units"`
}

// Result is a completed dispatch.
type Result struct {
	ResponseText   string   `json:"response_text"`
	ProviderUsed   string   `json:"provider_used"`
	ModelUsed      string   `json:"model_used"`
	TokensUsed     int      `json:"tokens_used"`
	FinishReason   string   `json:"finish_reason"`
	ContextIDsUsed []string `json:"context_ids_used"`
	ConversationID string   `json:"conversation_id"`
}

func (r Request) withDefaults() Request {
	if r.Layout == "" {
		r.Layout = composer.LayoutFull
	}
	if r.MaxContext <= 0 {
		r.MaxContext = DefaultMaxContext
	}
	return r
}

// Preview ranks and composes without touching usage stamps or providers.
func (s *Service) Preview(ctx context.Context, req Request) (*Preview, error) {
	req = req.withDefaults()
	ranked, err := s.engine.Rank(ctx, s.store, req.Task, req.MaxContext)
	if err != nil {
		return nil, err
	}
	prompt, err := composer.Compose(req.Task, ranked, req.Layout)
	if err != nil {
		return nil, err
	}
	return &Preview{Prompt: prompt, Units: ranked}, nil
}

// Dispatch runs the full pipeline. The conversation is persisted only
// after a provider succeeds.
func (s *Service) Dispatch(ctx context.Context, req Request) (*Result, error) {
	req = req.withDefaults()

	ranked, err := s.engine.Rank(ctx, s.store, req.Task, req.MaxContext)
	if err != nil {
		return nil, err
	}
	prompt, err := composer.Compose(req.Task, ranked, req.Layout)
	if err != nil {
		return nil, err
	}

	contextIDs := make([]string, len(ranked))
	for i, ru := range ranked {
		contextIDs[i] = ru.Unit.ID
	}

	text, meta, err := s.generate(ctx, prompt, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	conv, err := s.conversations.Create(ctx, req.Task, string(req.Layout), contextIDs)
	if err != nil {
		return nil, err
	}
	msgs := []model.Message{
		{Role: "user", Content: prompt, CreatedAt: now},
		{
			Role:         "assistant",
			Content:      text,
			ModelUsed:    meta.ModelUsed,
			TokensUsed:   meta.TokensUsed,
			FinishReason: meta.FinishReason,
			CreatedAt:    now,
		},
	}
	if err := s.conversations.AddMessages(ctx, conv.ID, msgs); err != nil {
		return nil, err
	}
	if err := s.conversations.SetProviderModel(ctx, conv.ID, meta.Provider, meta.ModelUsed); err != nil {
		return nil, err
	}

	if len(contextIDs) > 0 {
		if err := s.store.TouchUsed(ctx, contextIDs, now); err != nil {
			logger.Warn("failed to stamp context usage", "error", err)
		}
	}

	return &Result{
		ResponseText:   text,
		ProviderUsed:   meta.Provider,
		ModelUsed:      meta.ModelUsed,
		TokensUsed:     meta.TokensUsed,
		FinishReason:   meta.FinishReason,
		ContextIDsUsed: contextIDs,
		ConversationID: conv.ID,
	}, nil
}

// generate walks the candidate providers in order, skipping unregistered
// and unhealthy ones, and returns the first successful response.
func (s *Service) generate(ctx context.Context, prompt string, req Request) (string, provider.Metadata, error) {
	candidates := s.chain
	if req.Provider != "" {
		candidates = []string{req.Provider}
		if !s.registry.Has(req.Provider) {
			return "", provider.Metadata{}, errs.NotFound("provider", req.Provider)
		}
	}

	opts := provider.GenerateOptions{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	messages := []provider.Message{{Role: "user", Content: prompt}}

	var failures []errs.ProviderFailure
	var lastErr error
	for _, name := range candidates {
		p, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		if healthy, msg := p.HealthCheck(ctx); !healthy {
			logger.Warn("skipping unhealthy provider", "provider", name, "reason", msg)
			failures = append(failures, errs.ProviderFailure{Provider: name, Reason: "unhealthy: " + msg})
			continue
		}

		text, meta, err := p.GenerateResponse(ctx, messages, opts)
		if err != nil {
			logger.Warn("provider call failed", "provider", name, "error", err)
			failures = append(failures, errs.ProviderFailure{Provider: name, Reason: err.Error()})
			lastErr = err
			continue
		}
		return text, meta, nil
	}

	// a pinned provider reports its own failure rather than exhaustion
	if req.Provider != "" && lastErr != nil {
		return "", provider.Metadata{}, &errs.ProviderCallError{Provider: req.Provider, Err: lastErr}
	}
	return "", provider.Metadata{}, &errs.AllProvidersExhaustedError{Failures: failures}
}
