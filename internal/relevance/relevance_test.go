package relevance

import (
	"context"
	"errors"
	"testing"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/model"
	"github.com/contextpilot/contextpilot/internal/store"
)

// fakeEncoder returns canned vectors keyed by exact text.
type fakeEncoder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func addUnit(t *testing.T, s store.Store, kind model.Kind, content string, confidence float64, tags ...string) model.ContextUnit {
	t.Helper()
	unit, err := s.Add(context.Background(), store.AddParams{
		Kind:       kind,
		Content:    content,
		Confidence: confidence,
		Tags:       tags,
	})
	if err != nil {
		t.Fatalf("failed to add unit: %v", err)
	}
	return unit
}

func TestRankValidation(t *testing.T) {
	e := New(nil)
	s := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := e.Rank(ctx, s, "   ", 5); err == nil {
		t.Error("expected error for empty task")
	}
	var verr *errs.ValidationError
	_, err := e.Rank(ctx, s, "task", 0)
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for maxResults 0, got %v", err)
	}
}

func TestRankEmptyStore(t *testing.T) {
	e := New(nil)
	s := store.NewMemoryStore()

	ranked, err := e.Rank(context.Background(), s, "anything", 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("expected empty result, got %d", len(ranked))
	}
}

func TestRankSemanticOrdering(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	python := addUnit(t, s, model.KindPreference, "Uses type hints everywhere", 1.0)
	unrelated := addUnit(t, s, model.KindFact, "Owns a cat", 1.0)

	s.SetEmbedding(ctx, python.ID, []float32{1, 0, 0})
	s.SetEmbedding(ctx, unrelated.ID, []float32{0, 1, 0})

	enc := &fakeEncoder{vectors: map[string][]float32{
		"annotate the codebase": {1, 0, 0},
	}}
	e := New(enc)

	ranked, err := e.Rank(ctx, s, "annotate the codebase", 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Unit.ID != python.ID {
		t.Errorf("expected semantically close unit first, got %s", ranked[0].Unit.Content)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("scores not descending: %v then %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankConfidenceWeighting(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	certain := addUnit(t, s, model.KindFact, "certain statement", 1.0)
	doubtful := addUnit(t, s, model.KindFact, "doubtful statement", 0.2)

	// identical vectors: only confidence separates them
	s.SetEmbedding(ctx, certain.ID, []float32{1, 0, 0})
	s.SetEmbedding(ctx, doubtful.ID, []float32{1, 0, 0})

	enc := &fakeEncoder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	e := New(enc)

	ranked, err := e.Rank(ctx, s, "query", 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if ranked[0].Unit.ID != certain.ID {
		t.Error("high-confidence unit should outrank low-confidence twin")
	}
}

func TestRankExcludesSuperseded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	old := addUnit(t, s, model.KindPreference, "prefers java", 1.0)
	repl := addUnit(t, s, model.KindPreference, "prefers kotlin", 1.0)
	if err := s.Supersede(ctx, old.ID, repl.ID); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}

	e := New(nil)
	ranked, err := e.Rank(ctx, s, "prefers", 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	for _, r := range ranked {
		if r.Unit.ID == old.ID {
			t.Error("superseded unit appeared in ranking")
		}
	}
}

func TestRankKeywordOnlyDegrade(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	match := addUnit(t, s, model.KindPreference, "I prefer Python for data work", 1.0, "python")
	addUnit(t, s, model.KindFact, "Lives in Lisbon", 1.0)

	// encoder fails: ranking must still succeed on keyword overlap
	e := New(&fakeEncoder{err: errors.New("backend down")})

	ranked, err := e.Rank(ctx, s, "write a python script", 5)
	if err != nil {
		t.Fatalf("rank failed despite degrade path: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Unit.ID != match.ID {
		t.Errorf("keyword match should rank first, got %q", ranked[0].Unit.Content)
	}
}

func TestRankMaxResultsTruncation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for i := 0; i < 8; i++ {
		addUnit(t, s, model.KindFact, "shared token content", 1.0)
	}

	e := New(nil)
	ranked, err := e.Rank(ctx, s, "shared token", 3)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(ranked) != 3 {
		t.Errorf("expected 3 results, got %d", len(ranked))
	}
}

func TestRankTagsCountForKeywords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	tagged := addUnit(t, s, model.KindDecision, "standardize the toolchain", 1.0, "docker")
	plain := addUnit(t, s, model.KindDecision, "standardize the toolchain", 1.0)

	e := New(nil)
	ranked, err := e.Rank(ctx, s, "docker setup", 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Unit.ID != tagged.ID {
		t.Errorf("tag hit should outrank identical content without the tag (got %s first, want %s)",
			ranked[0].Unit.ID, plain.ID)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: expected ~1, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dims: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector: expected 0, got %v", got)
	}
}
