// Package model holds the core data types shared across the store,
// relevance, composer, and dispatch layers.
package model

import "time"

// Kind classifies a context unit.
type Kind string

const (
	KindPreference Kind = "preference"
	KindDecision   Kind = "decision"
	KindFact       Kind = "fact"
	KindGoal       Kind = "goal"
)

// ValidKind reports whether k is one of the known kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindPreference, KindDecision, KindFact, KindGoal:
		return true
	}
	return false
}

// Status marks whether a unit is current or replaced.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
)

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusSuperseded
}

// ContextUnit is a single atomic memory item about the user.
type ContextUnit struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Content      string     `json:"content"`
	Confidence   float64    `json:"confidence"`
	Tags         []string   `json:"tags"`
	Source       string     `json:"source"`
	Status       Status     `json:"status"`
	SupersededBy *string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// RankedUnit pairs a unit with its relevance score for one ranking call.
// Scores are comparable only within the call that produced them.
type RankedUnit struct {
	Unit  ContextUnit `json:"context_unit"`
	Score float64     `json:"relevance_score"`
}

// Message is one exchange entry in a conversation.
type Message struct {
	Role         string    `json:"role"` // system, user, assistant
	Content      string    `json:"content"`
	ModelUsed    string    `json:"model_used,omitempty"`
	TokensUsed   int       `json:"tokens_used,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is an append-only record of one or more exchanges. Provider
// and Model reflect the last successful exchange, not necessarily the first.
type Conversation struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	PromptType string    `json:"prompt_type"` // full or compact
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	ContextIDs []string  `json:"context_ids"`
	CreatedAt  time.Time `json:"created_at"`
	Messages   []Message `json:"messages,omitempty"`
}
