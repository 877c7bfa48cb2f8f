package config

import "time"

type Config struct {
	StorePath  string
	ListenAddr string
	Timezone   string

	Encoder   EncoderConfig
	Relevance RelevanceConfig
	Cache     CacheConfig
	Catalog   CatalogConfig
	Providers ProvidersConfig
}

// EncoderConfig selects the embedding backend. Empty provider disables
// embeddings; ranking then degrades to keyword overlap.
type EncoderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

type RelevanceConfig struct {
	MaxResults int
}

type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

type CatalogConfig struct {
	RefreshSchedule string
}

// ProvidersConfig holds one entry per dispatch provider. File-based
// overrides (the providers YAML) are applied on top of these.
type ProvidersConfig struct {
	File      string
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Ollama    ProviderConfig
}

type ProviderConfig struct {
	Enabled      bool
	APIKey       string
	BaseURL      string
	DefaultModel string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}
