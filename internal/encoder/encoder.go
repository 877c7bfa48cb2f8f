// Package encoder turns text into fixed-length embedding vectors and
// memoizes the results in a bounded TTL cache.
package encoder

import (
	"context"
	"fmt"
)

// Encoder generates an embedding vector for a text string. Implementations
// must be deterministic for identical input and safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an encoder backend.
type Config struct {
	Provider string // "ollama", "openai", or "" (disabled)
	BaseURL  string
	APIKey   string
	Model    string
}

// New creates an encoder from config. An empty provider disables semantic
// scoring; ranking then degrades to keyword overlap only.
func New(cfg Config) (Encoder, error) {
	switch cfg.Provider {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return newOllama(baseURL, model), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		return newOpenAI(baseURL, cfg.APIKey, model), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encoder provider: %s", cfg.Provider)
	}
}
