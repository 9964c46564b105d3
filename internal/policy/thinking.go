// Package policy maps incoming messages onto thinking-budget tiers.
package policy

import "strings"

// Tier is the thinking-effort level requested from the backend.
type Tier string

const (
	TierNone   Tier = "none"
	TierNormal Tier = "normal"
	TierDeep   Tier = "deep"
)

// Token budgets per tier.
const (
	BudgetDeep   = 50000
	BudgetNormal = 10000
)

// Decision is the outcome of classifying one message.
type Decision struct {
	Tier   Tier
	Budget int
}

// Default keyword sets. Matching is case-insensitive substring match
// against the raw message; the deep set wins on overlap.
var (
	DefaultDeepKeywords = []string{
		"deeply", "think hard", "think harder", "ultrathink", "in depth", "thorough",
	}
	DefaultNormalKeywords = []string{
		"think", "explain", "analyze", "analyse", "why", "compare", "reason",
	}
)

// Thinking classifies messages into tiers. The zero value uses the default
// keyword sets.
type Thinking struct {
	DeepKeywords   []string
	NormalKeywords []string
}

// Level returns the thinking decision for a message. Pure and total.
func (t Thinking) Level(message string) Decision {
	deep := t.DeepKeywords
	if deep == nil {
		deep = DefaultDeepKeywords
	}
	normal := t.NormalKeywords
	if normal == nil {
		normal = DefaultNormalKeywords
	}

	lower := strings.ToLower(message)
	for _, kw := range deep {
		if strings.Contains(lower, kw) {
			return Decision{Tier: TierDeep, Budget: BudgetDeep}
		}
	}
	for _, kw := range normal {
		if strings.Contains(lower, kw) {
			return Decision{Tier: TierNormal, Budget: BudgetNormal}
		}
	}
	return Decision{Tier: TierNone, Budget: 0}
}
