package schema

import "testing"

func TestExtractionResult_AppendPreservesOrder(t *testing.T) {
	acc := &ExtractionResult{}
	acc.Append(&ExtractionResult{
		Table14: []ActivityRecord{{MainActivity: "A"}},
		Table15: []ProductRecord{{ProductService: "P1"}, {ProductService: "P2"}},
	})
	acc.Append(&ExtractionResult{Table14: []ActivityRecord{{MainActivity: "A"}, {MainActivity: "B"}}})
	acc.Append(nil)

	if len(acc.Table14) != 3 || len(acc.Table15) != 2 {
		t.Fatalf("counts: %d/%d", len(acc.Table14), len(acc.Table15))
	}
	got := acc.Table14[0].MainActivity + acc.Table14[1].MainActivity + acc.Table14[2].MainActivity
	if got != "AAB" {
		t.Errorf("order/dedup: got %q, want AAB", got)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"VERIFIED":     StatusVerified,
		"NEEDS_REVIEW": StatusNeedsReview,
		"UNVERIFIED":   StatusNeedsReview,
		" verified ":   StatusVerified,
	}
	for in, want := range cases {
		got, ok := NormalizeStatus(in)
		if !ok || got != want {
			t.Errorf("NormalizeStatus(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := NormalizeStatus("APPROVED"); ok {
		t.Error("APPROVED should not be recognised")
	}
}

func TestSeverityTier(t *testing.T) {
	if SeverityCritical.Tier() != 1 || SeverityWarn.Tier() != 2 || SeverityInfo.Tier() != 3 {
		t.Error("unexpected tier mapping")
	}
	f := Finding{Severity: SeverityWarn, Text: "Year mismatch"}
	if f.Comment() != "[WARNING] Year mismatch" {
		t.Errorf("Comment() = %q", f.Comment())
	}
}
