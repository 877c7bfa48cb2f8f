package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/model"
)

// MemoryStore keeps units and embeddings in process memory. A single RWMutex
// protects both maps; supersede holds the write lock for its whole critical
// section, which makes it atomic with respect to concurrent Update/Delete.
type MemoryStore struct {
	mu         sync.RWMutex
	units      map[string]model.ContextUnit
	embeddings map[string][]float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:      make(map[string]model.ContextUnit),
		embeddings: make(map[string][]float32),
	}
}

func (s *MemoryStore) Add(_ context.Context, p AddParams) (model.ContextUnit, error) {
	if err := validateAdd(p); err != nil {
		return model.ContextUnit{}, err
	}

	source := p.Source
	if source == "" {
		source = "manual"
	}

	unit := model.ContextUnit{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		Content:    p.Content,
		Confidence: p.Confidence,
		Tags:       normalizeTags(p.Tags),
		Source:     source,
		Status:     model.StatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.units[unit.ID] = unit
	s.mu.Unlock()

	logger.Debug("added context unit", "id", unit.ID, "kind", unit.Kind)
	return unit, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.ContextUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[id]
	if !ok {
		return model.ContextUnit{}, errs.NotFound("context unit", id)
	}
	return unit, nil
}

func (s *MemoryStore) List(_ context.Context, includeSuperseded bool, f Filter) ([]model.ContextUnit, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ContextUnit
	for _, u := range s.units {
		if matches(u, includeSuperseded, f) {
			out = append(out, u)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fields UpdateFields) (model.ContextUnit, error) {
	if err := validateUpdate(fields); err != nil {
		return model.ContextUnit{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok := s.units[id]
	if !ok {
		return model.ContextUnit{}, errs.NotFound("context unit", id)
	}

	if fields.Kind != nil {
		unit.Kind = *fields.Kind
	}
	if fields.Confidence != nil {
		unit.Confidence = *fields.Confidence
	}
	if fields.Tags != nil {
		unit.Tags = normalizeTags(*fields.Tags)
	}
	if fields.Content != nil && *fields.Content != unit.Content {
		unit.Content = *fields.Content
		// content changed: the cached embedding no longer describes it
		delete(s.embeddings, id)
	}

	s.units[id] = unit
	return unit, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[id]; !ok {
		return false, nil
	}
	delete(s.units, id)
	delete(s.embeddings, id)
	// units pointing at this id via SupersededBy keep their dangling pointer;
	// readers ignore it
	return true, nil
}

func (s *MemoryStore) Supersede(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.units[oldID]
	if !ok {
		return errs.NotFound("context unit", oldID)
	}
	if _, ok := s.units[newID]; !ok {
		return errs.NotFound("context unit", newID)
	}

	old.Status = model.StatusSuperseded
	old.SupersededBy = &newID
	s.units[oldID] = old

	logger.Debug("superseded context unit", "old", oldID, "new", newID)
	return nil
}

func (s *MemoryStore) EmbeddingOf(_ context.Context, id string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.units[id]; !ok {
		return nil, errs.NotFound("context unit", id)
	}
	vec, ok := s.embeddings[id]
	if !ok {
		return nil, nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (s *MemoryStore) SetEmbedding(_ context.Context, id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[id]; !ok {
		return errs.NotFound("context unit", id)
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)
	s.embeddings[id] = stored
	return nil
}

func (s *MemoryStore) ListWithEmbeddings(_ context.Context) ([]Embedded, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Embedded
	for id, u := range s.units {
		if u.Status != model.StatusActive {
			continue
		}
		vec, ok := s.embeddings[id]
		if !ok {
			continue
		}
		copied := make([]float32, len(vec))
		copy(copied, vec)
		out = append(out, Embedded{Unit: u, Vector: copied})
	}
	return out, nil
}

func (s *MemoryStore) TouchUsed(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if unit, ok := s.units[id]; ok {
			t := at
			unit.LastUsedAt = &t
			s.units[id] = unit
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
