// Package composer renders a ranked list of context units and a task into a
// single prompt document. Composition is a pure transformation: it never
// touches LastUsedAt. Marking units as used is the dispatcher's job, so a
// preview does not count as usage.
package composer

import (
	"strings"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/model"
)

// Layout selects the output format.
type Layout string

const (
	LayoutFull    Layout = "full"
	LayoutCompact Layout = "compact"
)

// ValidLayout reports whether l is a known layout.
func ValidLayout(l Layout) bool {
	return l == LayoutFull || l == LayoutCompact
}

// kindOrder fixes the heading order in the full layout.
var kindOrder = []model.Kind{model.KindPreference, model.KindGoal, model.KindDecision, model.KindFact}

var kindHeadings = map[model.Kind]string{
	model.KindPreference: "Preferences",
	model.KindGoal:       "Goals",
	model.KindDecision:   "Decisions",
	model.KindFact:       "Facts",
}

// Compose renders the prompt document. Identical inputs yield byte-identical
// output.
func Compose(task string, ranked []model.RankedUnit, layout Layout) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", errs.Validationf("task must not be empty")
	}
	if !ValidLayout(layout) {
		return "", errs.Validationf("unknown layout %q", layout)
	}

	switch layout {
	case LayoutCompact:
		return composeCompact(task, ranked), nil
	default:
		return composeFull(task, ranked), nil
	}
}

func composeFull(task string, ranked []model.RankedUnit) string {
	var b strings.Builder

	if len(ranked) > 0 {
		byKind := make(map[model.Kind][]model.RankedUnit)
		for _, r := range ranked {
			byKind[r.Unit.Kind] = append(byKind[r.Unit.Kind], r)
		}

		b.WriteString("# Context\n")
		for _, kind := range kindOrder {
			units := byKind[kind]
			if len(units) == 0 {
				continue
			}
			b.WriteString("\n## " + kindHeadings[kind] + "\n")
			for _, r := range units {
				glyph := "~"
				if r.Unit.Confidence >= 0.8 {
					glyph = "✓"
				}
				b.WriteString("- [" + glyph + "] " + r.Unit.Content + "\n")
				if len(r.Unit.Tags) > 0 {
					b.WriteString("  (Tags: " + strings.Join(r.Unit.Tags, ", ") + ")\n")
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("# Task\n\n" + task + "\n")
	b.WriteString("\n# Instructions\n\n")
	b.WriteString("Please complete the task above, taking into account the provided context.\n")
	b.WriteString("Align your response with the stated preferences, goals, and decisions.\n")

	return b.String()
}

func composeCompact(task string, ranked []model.RankedUnit) string {
	var b strings.Builder

	if len(ranked) > 0 {
		b.WriteString("Given the following context about the user:\n\n")
		for _, r := range ranked {
			b.WriteString("• " + r.Unit.Content + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Task: " + task + "\n")
	return b.String()
}
