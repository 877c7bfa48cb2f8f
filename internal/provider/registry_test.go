package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/contextpilot/contextpilot/internal/errs"
)

// stubProvider is a minimal adapter for registry tests.
type stubProvider struct {
	name      string
	healthy   bool
	healthMsg string
	caps      Capabilities
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Capabilities() Capabilities { return s.caps }
func (s *stubProvider) Initialize(context.Context) error {
	return nil
}
func (s *stubProvider) GenerateResponse(context.Context, []Message, GenerateOptions) (string, Metadata, error) {
	return "", Metadata{}, nil
}
func (s *stubProvider) ListModels(context.Context) ([]ModelInfo, error) {
	return nil, nil
}
func (s *stubProvider) ValidateModel(context.Context, string) bool { return true }
func (s *stubProvider) HealthCheck(context.Context) (bool, string) {
	return s.healthy, s.healthMsg
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := &stubProvider{name: "stub", healthy: true}

	r.Register(p, "Stub Provider")

	got, err := r.Get("stub")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name() != "stub" {
		t.Errorf("wrong provider: %s", got.Name())
	}
	if !r.Has("stub") {
		t.Error("Has returned false for registered provider")
	}
	if r.Has("other") {
		t.Error("Has returned true for unknown provider")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "zeta"}, "")
	r.Register(&stubProvider{name: "alpha"}, "")
	r.Register(&stubProvider{name: "mid"}, "")

	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{
		name:    "good",
		healthy: true,
		caps:    Capabilities{SupportsTemperature: true},
	}, "Good One")
	r.Register(&stubProvider{
		name:      "bad",
		healthy:   false,
		healthMsg: "daemon unreachable",
	}, "")

	infos := r.List(context.Background())
	if len(infos) != 2 {
		t.Fatalf("expected 2 infos, got %d", len(infos))
	}

	// sorted: bad before good
	if infos[0].Name != "bad" || infos[1].Name != "good" {
		t.Fatalf("unexpected order: %s, %s", infos[0].Name, infos[1].Name)
	}
	if infos[0].Healthy || infos[0].HealthMessage != "daemon unreachable" {
		t.Errorf("bad provider health not reported: %+v", infos[0])
	}
	if !infos[1].Healthy {
		t.Error("good provider reported unhealthy")
	}
	if infos[1].DisplayName != "Good One" {
		t.Errorf("display name not kept: %s", infos[1].DisplayName)
	}
	if infos[0].DisplayName != "bad" {
		t.Errorf("empty display name should default to provider name, got %s", infos[0].DisplayName)
	}
	if !infos[1].Capabilities.SupportsTemperature {
		t.Error("capabilities not surfaced")
	}
}
