// Package relevance ranks context units against a task using a blend of
// embedding similarity and keyword overlap. The scoring function is
// intentionally simple and replaceable; a flat in-process scan is the target
// scale.
package relevance

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/contextpilot/contextpilot/internal/encoder"
	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/model"
	"github.com/contextpilot/contextpilot/internal/store"
)

const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// Engine ranks context units for a task. A nil encoder degrades scoring to
// keyword overlap only; it never fails the ranking call.
type Engine struct {
	enc encoder.Encoder
}

// New creates an engine around the given encoder. enc may be nil.
func New(enc encoder.Encoder) *Engine {
	return &Engine{enc: enc}
}

// Rank returns up to maxResults active units in descending score order.
// Superseded units never appear. Ties are broken by CreatedAt descending so
// ordering is deterministic for a fixed store snapshot.
func (e *Engine) Rank(ctx context.Context, st store.Store, task string, maxResults int) ([]model.RankedUnit, error) {
	if strings.TrimSpace(task) == "" {
		return nil, errs.Validationf("task must not be empty")
	}
	if maxResults <= 0 {
		return nil, errs.Validationf("maxResults must be at least 1, got %d", maxResults)
	}

	var taskVec []float32
	if e.enc != nil {
		vec, err := e.enc.Encode(ctx, task)
		if err != nil {
			// encoder unavailable: degrade to keyword-only scoring rather
			// than failing a read-mostly operation
			logger.Warn("task embedding failed, ranking on keywords only", "error", err)
		} else {
			taskVec = vec
		}
	}

	embedded := make(map[string][]float32)
	if taskVec != nil {
		withVecs, err := st.ListWithEmbeddings(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range withVecs {
			embedded[e.Unit.ID] = e.Vector
		}
	}

	active, err := st.List(ctx, false, store.Filter{})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	taskTokens := tokenize(task)

	ranked := make([]model.RankedUnit, 0, len(active))
	for _, unit := range active {
		semantic := 0.0
		if vec, ok := embedded[unit.ID]; ok && taskVec != nil {
			semantic = cosineSimilarity(taskVec, vec)
		}
		keyword := keywordOverlap(taskTokens, unit)

		score := semanticWeight*(semantic*unit.Confidence) + keywordWeight*keyword
		ranked = append(ranked, model.RankedUnit{Unit: unit, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Unit.CreatedAt.After(ranked[j].Unit.CreatedAt)
	})

	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	return ranked, nil
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// returning the resulting token set.
func tokenize(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// keywordOverlap is the fraction of task tokens that appear in the unit's
// content or tag set.
func keywordOverlap(taskTokens map[string]bool, unit model.ContextUnit) float64 {
	if len(taskTokens) == 0 {
		return 0
	}

	unitTokens := tokenize(unit.Content)
	for _, tag := range unit.Tags {
		for t := range tokenize(tag) {
			unitTokens[t] = true
		}
	}

	hits := 0
	for t := range taskTokens {
		if unitTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(taskTokens))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
