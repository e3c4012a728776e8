package audit

import (
	"sort"

	"github.com/dshills/brsrcheck/internal/schema"
)

// Score computes the advisory risk score from all findings.
// Start: 100, -20 per CRITICAL, -5 per WARNING, clamped at 0. INFO is free.
func Score(findings []schema.Finding) int {
	score := 100
	for _, f := range findings {
		switch f.Severity {
		case schema.SeverityCritical:
			score -= 20
		case schema.SeverityWarn:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Status derives the verification status: VERIFIED iff there is no CRITICAL
// finding. The score never influences it.
func Status(findings []schema.Finding) schema.Status {
	for _, f := range findings {
		if f.Severity == schema.SeverityCritical {
			return schema.StatusNeedsReview
		}
	}
	return schema.StatusVerified
}

// Counts returns the critical, warning and info counts.
func Counts(findings []schema.Finding) (critical, warn, info int) {
	for _, f := range findings {
		switch f.Severity {
		case schema.SeverityCritical:
			critical++
		case schema.SeverityWarn:
			warn++
		case schema.SeverityInfo:
			info++
		}
	}
	return
}

// FilterBySeverity returns only findings at or above the given threshold.
func FilterBySeverity(findings []schema.Finding, threshold schema.Severity) []schema.Finding {
	if threshold == schema.SeverityInfo || threshold == "" {
		return findings
	}
	out := make([]schema.Finding, 0, len(findings))
	for _, f := range findings {
		if schema.SeverityOrdinal(f.Severity) >= schema.SeverityOrdinal(threshold) {
			out = append(out, f)
		}
	}
	return out
}

// SortFindings orders findings CRITICAL, WARNING, INFO, keeping the relative
// order within a severity.
func SortFindings(findings []schema.Finding) []schema.Finding {
	out := append([]schema.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return schema.SeverityOrdinal(out[i].Severity) > schema.SeverityOrdinal(out[j].Severity)
	})
	return out
}
