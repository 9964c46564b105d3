package policy

import "testing"

func TestLevel(t *testing.T) {
	var p Thinking

	tests := []struct {
		name    string
		message string
		tier    Tier
		budget  int
	}{
		{"plain greeting", "hi", TierNone, 0},
		{"deep keyword", "explain deeply the halting problem", TierDeep, BudgetDeep},
		{"normal keyword", "explain the halting problem", TierNormal, BudgetNormal},
		{"case insensitive", "THINK about this", TierNormal, BudgetNormal},
		{"deep phrase", "please think hard about it", TierDeep, BudgetDeep},
		{"empty message", "", TierNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Level(tt.message)
			if d.Tier != tt.tier {
				t.Errorf("Level(%q).Tier = %s, want %s", tt.message, d.Tier, tt.tier)
			}
			if d.Budget != tt.budget {
				t.Errorf("Level(%q).Budget = %d, want %d", tt.message, d.Budget, tt.budget)
			}
		})
	}
}

// Deep keywords take precedence when a message matches both sets.
func TestDeepPrecedence(t *testing.T) {
	p := Thinking{
		DeepKeywords:   []string{"deeply"},
		NormalKeywords: []string{"explain"},
	}

	d := p.Level("explain this deeply")
	if d.Tier != TierDeep {
		t.Fatalf("expected deep tier on overlap, got %s", d.Tier)
	}
	if d.Budget != BudgetDeep {
		t.Fatalf("expected budget %d, got %d", BudgetDeep, d.Budget)
	}
}
