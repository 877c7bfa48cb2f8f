// Package provider abstracts LLM backends behind a common adapter interface
// with a declared capability model. New vendors are additive: implement the
// Provider interface and register by name; the dispatch fallback logic never
// changes.
package provider

import (
	"context"
	"time"

	"github.com/contextpilot/contextpilot/internal/errs"
)

// Capabilities is the static feature/limit declaration of one adapter.
// Callers consult it before passing optional parameters; adapters fail with
// UnsupportedCapabilityError instead of silently ignoring parameters their
// capabilities forbid.
type Capabilities struct {
	SupportsStreaming          bool
	SupportsSystemMessages     bool
	SupportsTemperature        bool
	SupportsMaxTokens          bool
	RequiresAPIKey             bool
	SupportsLocalAutoProvision bool
	SupportsModelDiscovery     bool
	DefaultRateLimit           int // requests per minute
	TracksTokenUsage           bool
}

// Config is the per-provider static descriptor, supplied once at
// registration and immutable for the adapter's lifetime.
type Config struct {
	Name               string
	DisplayName        string
	APIKey             string
	BaseURL            string
	DefaultModel       string
	DefaultTemperature float64
	DefaultMaxTokens   int
	Timeout            time.Duration
	// ProvisionTimeout bounds a local model pull, which may be a
	// multi-gigabyte download; it is deliberately much longer than Timeout.
	ProvisionTimeout time.Duration
}

const (
	DefaultTimeout          = 2 * time.Minute
	DefaultProvisionTimeout = 10 * time.Minute
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 2000
)

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = DefaultProvisionTimeout
	}
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = DefaultTemperature
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = DefaultMaxTokens
	}
	return c
}

func (c Config) validate(caps Capabilities) error {
	if caps.RequiresAPIKey && c.APIKey == "" {
		return errs.Validationf("%s requires an API key", c.Name)
	}
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 2 {
		return errs.Validationf("temperature must be between 0 and 2")
	}
	if c.DefaultMaxTokens <= 0 {
		return errs.Validationf("max tokens must be positive")
	}
	return nil
}

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// GenerateOptions carries per-call overrides. A nil Temperature means "use
// the provider default"; a non-nil Temperature sent to an adapter that does
// not support it is an error, not a no-op.
type GenerateOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Metadata describes one completed generation.
type Metadata struct {
	TokensUsed   int
	InputTokens  int
	OutputTokens int
	FinishReason string
	ModelUsed    string
	Provider     string
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
	Local         bool   `json:"local,omitempty"`
}

// Provider is one LLM backend adapter.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Initialize(ctx context.Context) error
	GenerateResponse(ctx context.Context, messages []Message, opts GenerateOptions) (string, Metadata, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	ValidateModel(ctx context.Context, model string) bool
	HealthCheck(ctx context.Context) (bool, string)
}
