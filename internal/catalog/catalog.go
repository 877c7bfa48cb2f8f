// Package catalog keeps a cached snapshot of each provider's available
// models, refreshed on a schedule so list requests never fan out to
// provider APIs.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/provider"
)

// DefaultSchedule refreshes hourly.
const DefaultSchedule = "0 * * * *"

const refreshTimeout = 30 * time.Second

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Catalog struct {
	registry *provider.Registry

	mu          sync.RWMutex
	models      map[string][]provider.ModelInfo
	refreshedAt time.Time

	sched *cron.Cron
}

func New(reg *provider.Registry) *Catalog {
	return &Catalog{
		registry: reg,
		models:   make(map[string][]provider.ModelInfo),
	}
}

// Start runs an immediate refresh and schedules periodic ones. schedule
// is a 5-field cron expression; empty means DefaultSchedule.
func (c *Catalog) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid refresh schedule: %w", err)
	}

	c.Refresh(ctx)

	c.sched = cron.New(cron.WithParser(cronParser))
	_, err := c.sched.AddFunc(schedule, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		c.Refresh(refreshCtx)
	})
	if err != nil {
		return err
	}
	c.sched.Start()
	logger.Info("model catalog refresher started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler. Safe to call when Start never ran.
func (c *Catalog) Stop() {
	if c.sched != nil {
		c.sched.Stop()
	}
}

// Refresh queries every registered provider that supports model discovery
// and swaps in the new snapshot. Providers that fail keep their previous
// entry.
func (c *Catalog) Refresh(ctx context.Context) {
	for _, name := range c.registry.Names() {
		p, err := c.registry.Get(name)
		if err != nil {
			continue
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			logger.Warn("model list refresh failed", "provider", name, "error", err)
			continue
		}
		c.mu.Lock()
		c.models[name] = models
		c.refreshedAt = time.Now().UTC()
		c.mu.Unlock()
	}
}

// Models returns the cached list for one provider.
func (c *Catalog) Models(providerName string) []provider.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := make([]provider.ModelInfo, len(c.models[providerName]))
	copy(models, c.models[providerName])
	return models
}

// All returns the whole snapshot keyed by provider name.
func (c *Catalog) All() map[string][]provider.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]provider.ModelInfo, len(c.models))
	for name, list := range c.models {
		cp := make([]provider.ModelInfo, len(list))
		copy(cp, list)
		out[name] = cp
	}
	return out
}

// RefreshedAt reports when any snapshot last changed.
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
