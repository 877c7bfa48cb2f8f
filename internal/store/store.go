// Package store owns the collection of context units and their embeddings.
// Two conforming implementations exist: an in-memory map for tests and small
// installs, and a SQLite-backed store for persistence. All core logic is
// written against the Store interface, never against a concrete backend.
package store

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/model"
)

// Defensive re-checks; the outer validation layer normally enforces these
// before input reaches the store.
const (
	maxContentLength = 10000
	maxTagCount      = 20
	maxTagLength     = 50
)

// AddParams are the caller-supplied fields for a new context unit.
type AddParams struct {
	Kind       model.Kind
	Content    string
	Confidence float64
	Tags       []string
	Source     string
}

// UpdateFields carries a partial update; nil fields are left unchanged.
type UpdateFields struct {
	Kind       *model.Kind
	Content    *string
	Confidence *float64
	Tags       *[]string
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Kind             model.Kind
	Tags             []string // unit must carry every listed tag
	ContentSubstring string   // case-insensitive
	Status           model.Status
}

// Embedded pairs an active unit with its computed embedding vector.
type Embedded struct {
	Unit   model.ContextUnit
	Vector []float32
}

// Store is the storage contract for context units and their embeddings.
// Embedding access is deliberately separate from Update so that embedding
// computation stays decoupled from metadata edits.
type Store interface {
	Add(ctx context.Context, p AddParams) (model.ContextUnit, error)
	Get(ctx context.Context, id string) (model.ContextUnit, error)
	List(ctx context.Context, includeSuperseded bool, f Filter) ([]model.ContextUnit, error)
	Update(ctx context.Context, id string, fields UpdateFields) (model.ContextUnit, error)
	Delete(ctx context.Context, id string) (bool, error)
	Supersede(ctx context.Context, oldID, newID string) error

	EmbeddingOf(ctx context.Context, id string) ([]float32, error)
	SetEmbedding(ctx context.Context, id string, vector []float32) error
	ListWithEmbeddings(ctx context.Context) ([]Embedded, error)

	// TouchUsed updates LastUsedAt for the given units. Best-effort: callers
	// may ignore the error.
	TouchUsed(ctx context.Context, ids []string, at time.Time) error

	Close() error
}

func validateAdd(p AddParams) error {
	if strings.TrimSpace(p.Content) == "" {
		return errs.Validationf("content must not be empty")
	}
	if len(p.Content) > maxContentLength {
		return errs.Validationf("content exceeds %d characters", maxContentLength)
	}
	if !model.ValidKind(p.Kind) {
		return errs.Validationf("unknown kind %q", p.Kind)
	}
	if err := validateConfidence(p.Confidence); err != nil {
		return err
	}
	return validateTags(p.Tags)
}

func validateUpdate(fields UpdateFields) error {
	if fields.Content != nil {
		if strings.TrimSpace(*fields.Content) == "" {
			return errs.Validationf("content must not be empty")
		}
		if len(*fields.Content) > maxContentLength {
			return errs.Validationf("content exceeds %d characters", maxContentLength)
		}
	}
	if fields.Kind != nil && !model.ValidKind(*fields.Kind) {
		return errs.Validationf("unknown kind %q", *fields.Kind)
	}
	if fields.Confidence != nil {
		if err := validateConfidence(*fields.Confidence); err != nil {
			return err
		}
	}
	if fields.Tags != nil {
		return validateTags(*fields.Tags)
	}
	return nil
}

func validateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return errs.Validationf("confidence must be in [0.0, 1.0], got %v", c)
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > maxTagCount {
		return errs.Validationf("at most %d tags allowed", maxTagCount)
	}
	for _, t := range tags {
		if len(t) > maxTagLength {
			return errs.Validationf("tag %q exceeds %d characters", t, maxTagLength)
		}
	}
	return nil
}

func validateFilter(f Filter) error {
	if f.Kind != "" && !model.ValidKind(f.Kind) {
		return errs.Validationf("unknown kind filter %q", f.Kind)
	}
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return errs.Validationf("unknown status filter %q", f.Status)
	}
	return nil
}

// normalizeTags collapses duplicates and strips surrounding whitespace,
// preserving first-occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// matches applies the filter and the includeSuperseded flag to a unit. An
// explicit Status filter wins over the flag.
func matches(u model.ContextUnit, includeSuperseded bool, f Filter) bool {
	if f.Status != "" {
		if u.Status != f.Status {
			return false
		}
	} else if !includeSuperseded && u.Status != model.StatusActive {
		return false
	}
	if f.Kind != "" && u.Kind != f.Kind {
		return false
	}
	if f.ContentSubstring != "" &&
		!strings.Contains(strings.ToLower(u.Content), strings.ToLower(f.ContentSubstring)) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range u.Tags {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
