package rules

import (
	"strings"
	"testing"

	"github.com/dshills/brsrcheck/internal/schema"
)

func TestDefault_ThreeTiers(t *testing.T) {
	rs := Default()
	if len(rs.Tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(rs.Tiers))
	}
	for i, want := range []schema.Severity{schema.SeverityCritical, schema.SeverityWarn, schema.SeverityInfo} {
		if rs.Tiers[i].Severity != want || rs.Tiers[i].Number != i+1 {
			t.Errorf("tier %d: got %+v", i, rs.Tiers[i])
		}
		if len(rs.Tiers[i].Rules) == 0 {
			t.Errorf("tier %d has no rules", i+1)
		}
	}
}

func TestFormatForPrompt_CitesTiersAndRules(t *testing.T) {
	out := Default().FormatForPrompt()
	for _, want := range []string{
		"Tier 1 (CRITICAL", "Tier 2 (WARNING", "Tier 3 (INFO",
		"[" + RuleCINLength + "]", "[85, 105]", "TBD", "characters 9-12",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt rules missing %q:\n%s", want, out)
		}
	}
}
