package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

func Load() (*Config, error) {
	storePath := os.Getenv("CONTEXTPILOT_DB")
	if storePath == "" {
		storePath = "contextpilot.db"
	}

	listenAddr := os.Getenv("CONTEXTPILOT_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	providers, err := loadProvidersConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		StorePath:  storePath,
		ListenAddr: listenAddr,
		Timezone:   timezone,
		Encoder:    loadEncoderConfig(),
		Relevance:  loadRelevanceConfig(),
		Cache:      loadCacheConfig(),
		Catalog:    loadCatalogConfig(),
		Providers:  providers,
	}, nil
}

func loadEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Provider: os.Getenv("ENCODER_PROVIDER"),
		BaseURL:  os.Getenv("ENCODER_URL"),
		APIKey:   os.Getenv("ENCODER_API_KEY"),
		Model:    os.Getenv("ENCODER_MODEL"),
	}
}

func loadRelevanceConfig() RelevanceConfig {
	maxResults := 5
	if n, err := strconv.Atoi(os.Getenv("RELEVANCE_MAX_RESULTS")); err == nil && n > 0 {
		maxResults = n
	}
	return RelevanceConfig{MaxResults: maxResults}
}

func loadCacheConfig() CacheConfig {
	maxSize := 1000
	if n, err := strconv.Atoi(os.Getenv("EMBEDDING_CACHE_SIZE")); err == nil && n > 0 {
		maxSize = n
	}

	ttl := time.Hour
	if d, err := time.ParseDuration(os.Getenv("EMBEDDING_CACHE_TTL")); err == nil && d > 0 {
		ttl = d
	}

	return CacheConfig{MaxSize: maxSize, TTL: ttl}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		RefreshSchedule: os.Getenv("CATALOG_REFRESH_SCHEDULE"),
	}
}

func loadProvidersConfig() (ProvidersConfig, error) {
	cfg := ProvidersConfig{
		File: os.Getenv("CONTEXTPILOT_PROVIDERS_FILE"),
		OpenAI: ProviderConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			DefaultModel: os.Getenv("OPENAI_MODEL"),
		},
		Anthropic: ProviderConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: os.Getenv("ANTHROPIC_MODEL"),
		},
		Ollama: ProviderConfig{
			BaseURL:      os.Getenv("OLLAMA_BASE_URL"),
			DefaultModel: os.Getenv("OLLAMA_MODEL"),
		},
	}

	// keyed providers are enabled by presence of their key; ollama needs
	// no key and is always a candidate
	cfg.OpenAI.Enabled = cfg.OpenAI.APIKey != ""
	cfg.Anthropic.Enabled = cfg.Anthropic.APIKey != ""
	cfg.Ollama.Enabled = os.Getenv("OLLAMA_DISABLED") != "true"

	if cfg.File != "" {
		if err := applyProvidersFile(&cfg); err != nil {
			return ProvidersConfig{}, err
		}
	}
	return cfg, nil
}

// providerOverride mirrors ProviderConfig with pointer fields so the YAML
// overlay can tell an explicit zero (temperature: 0, max_tokens: 0) apart
// from an absent key.
type providerOverride struct {
	Enabled      *bool          `yaml:"enabled"`
	APIKey       string         `yaml:"api_key"`
	BaseURL      string         `yaml:"base_url"`
	DefaultModel string         `yaml:"default_model"`
	Temperature  *float64       `yaml:"temperature"`
	MaxTokens    *int           `yaml:"max_tokens"`
	Timeout      *time.Duration `yaml:"timeout"`
}

// applyProvidersFile overlays per-provider settings from a YAML file.
// Only fields set in the file replace the env-derived values.
func applyProvidersFile(cfg *ProvidersConfig) error {
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return fmt.Errorf("read providers file: %w", err)
	}

	var file struct {
		Providers map[string]providerOverride `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse providers file: %w", err)
	}

	for name, override := range file.Providers {
		var target *ProviderConfig
		switch name {
		case "openai":
			target = &cfg.OpenAI
		case "anthropic":
			target = &cfg.Anthropic
		case "ollama":
			target = &cfg.Ollama
		default:
			return fmt.Errorf("unknown provider in providers file: %s", name)
		}
		merge(target, override)
	}
	return nil
}

func merge(dst *ProviderConfig, src providerOverride) {
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
		dst.Enabled = true
	}
	if src.Enabled != nil {
		dst.Enabled = *src.Enabled
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.DefaultModel != "" {
		dst.DefaultModel = src.DefaultModel
	}
	if src.Temperature != nil {
		dst.Temperature = *src.Temperature
	}
	if src.MaxTokens != nil {
		dst.MaxTokens = *src.MaxTokens
	}
	if src.Timeout != nil {
		dst.Timeout = *src.Timeout
	}
}
