package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/contextpilot/contextpilot/internal/provider"
)

type listOnlyProvider struct {
	name   string
	models []provider.ModelInfo
	err    error
}

func (p *listOnlyProvider) Name() string                        { return p.name }
func (p *listOnlyProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (p *listOnlyProvider) Initialize(context.Context) error    { return nil }
func (p *listOnlyProvider) GenerateResponse(context.Context, []provider.Message, provider.GenerateOptions) (string, provider.Metadata, error) {
	return "", provider.Metadata{}, nil
}
func (p *listOnlyProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return p.models, p.err
}
func (p *listOnlyProvider) ValidateModel(context.Context, string) bool { return true }
func (p *listOnlyProvider) HealthCheck(context.Context) (bool, string) { return true, "" }

func TestCatalogRefresh(t *testing.T) {
	reg := provider.NewRegistry()
	good := &listOnlyProvider{name: "good", models: []provider.ModelInfo{{ID: "m1"}, {ID: "m2"}}}
	bad := &listOnlyProvider{name: "bad", err: errors.New("unreachable")}
	reg.Register(good, "")
	reg.Register(bad, "")

	c := New(reg)
	c.Refresh(context.Background())

	if got := c.Models("good"); len(got) != 2 || got[0].ID != "m1" {
		t.Errorf("good snapshot wrong: %+v", got)
	}
	if got := c.Models("bad"); len(got) != 0 {
		t.Errorf("failed provider should have no snapshot: %+v", got)
	}
	if c.RefreshedAt().IsZero() {
		t.Error("refresh timestamp not set")
	}

	all := c.All()
	if len(all["good"]) != 2 {
		t.Errorf("All() missing good provider: %+v", all)
	}
}

func TestCatalogFailureKeepsPreviousSnapshot(t *testing.T) {
	reg := provider.NewRegistry()
	p := &listOnlyProvider{name: "flaky", models: []provider.ModelInfo{{ID: "v1"}}}
	reg.Register(p, "")

	c := New(reg)
	c.Refresh(context.Background())

	p.err = errors.New("down for maintenance")
	c.Refresh(context.Background())

	if got := c.Models("flaky"); len(got) != 1 || got[0].ID != "v1" {
		t.Errorf("previous snapshot lost on failure: %+v", got)
	}
}

func TestCatalogStartRejectsBadSchedule(t *testing.T) {
	c := New(provider.NewRegistry())
	if err := c.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	c.Stop()
}

func TestCatalogSnapshotIsolation(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&listOnlyProvider{name: "p", models: []provider.ModelInfo{{ID: "orig"}}}, "")

	c := New(reg)
	c.Refresh(context.Background())

	got := c.Models("p")
	got[0].ID = "mutated"

	if again := c.Models("p"); again[0].ID != "orig" {
		t.Error("caller mutation leaked into the catalog")
	}
}
