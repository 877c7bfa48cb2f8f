package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextpilot/contextpilot/internal/catalog"
	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/conversation"
	"github.com/contextpilot/contextpilot/internal/dispatch"
	"github.com/contextpilot/contextpilot/internal/encoder"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/provider"
	"github.com/contextpilot/contextpilot/internal/relevance"
	"github.com/contextpilot/contextpilot/internal/server"
	"github.com/contextpilot/contextpilot/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: $CONTEXTPILOT_ADDR or :8080)")
	RootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	st, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	convs, err := conversation.NewStore(st.DB())
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	enc, err := encoder.New(encoder.Config{
		Provider: cfg.Encoder.Provider,
		BaseURL:  cfg.Encoder.BaseURL,
		APIKey:   cfg.Encoder.APIKey,
		Model:    cfg.Encoder.Model,
	})
	if err != nil {
		return fmt.Errorf("configure encoder: %w", err)
	}
	if enc != nil {
		cache := encoder.NewCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
		enc = encoder.Cached(enc, cache)
	} else {
		logger.Warn("no encoder configured; ranking uses keyword overlap only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := provider.NewRegistry()
	registerProviders(ctx, registry, cfg.Providers)

	cat := catalog.New(registry)
	if err := cat.Start(ctx, cfg.Catalog.RefreshSchedule); err != nil {
		return fmt.Errorf("start model catalog: %w", err)
	}
	defer cat.Stop()

	engine := relevance.New(enc)
	dispatcher := dispatch.NewService(st, engine, registry, convs)
	srv := server.New(st, engine, dispatcher, registry, cat, convs, enc)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// registerProviders builds and registers each enabled provider. A provider
// that fails to construct or initialize is logged and skipped so one bad
// credential never blocks startup.
func registerProviders(ctx context.Context, reg *provider.Registry, cfg config.ProvidersConfig) {
	type candidate struct {
		display string
		build   func() (provider.Provider, error)
		enabled bool
	}

	candidates := []candidate{
		{
			display: "OpenAI",
			enabled: cfg.OpenAI.Enabled,
			build: func() (provider.Provider, error) {
				return provider.NewOpenAI(providerConfig("openai", cfg.OpenAI))
			},
		},
		{
			display: "Anthropic",
			enabled: cfg.Anthropic.Enabled,
			build: func() (provider.Provider, error) {
				return provider.NewAnthropic(providerConfig("anthropic", cfg.Anthropic))
			},
		},
		{
			display: "Ollama",
			enabled: cfg.Ollama.Enabled,
			build: func() (provider.Provider, error) {
				return provider.NewOllama(providerConfig("ollama", cfg.Ollama))
			},
		},
	}

	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		p, err := c.build()
		if err != nil {
			logger.Warn("provider disabled", "provider", c.display, "error", err)
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			logger.Warn("provider initialization failed", "provider", c.display, "error", err)
			continue
		}
		reg.Register(p, c.display)
	}
}

func providerConfig(name string, pc config.ProviderConfig) provider.Config {
	return provider.Config{
		Name:               name,
		APIKey:             pc.APIKey,
		BaseURL:            pc.BaseURL,
		DefaultModel:       pc.DefaultModel,
		DefaultTemperature: pc.Temperature,
		DefaultMaxTokens:   pc.MaxTokens,
		Timeout:            pc.Timeout,
	}
}
