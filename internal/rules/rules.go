// Package rules holds the tiered BRSR Section A audit rule set. The same rule
// set is rendered into the audit prompt and enforced by the deterministic
// checks in package audit.
package rules

import (
	"fmt"
	"strings"

	"github.com/dshills/brsrcheck/internal/schema"
)

// Rule IDs shared between the prompt and the local checks.
const (
	RuleMandatoryField  = "MANDATORY_FIELD"
	RuleTurnoverSum     = "TURNOVER_SUM"
	RuleCINLength       = "CIN_LENGTH"
	RulePlaceholder     = "PLACEHOLDER_TOKEN"
	RuleCINYear         = "CIN_YEAR_MISMATCH"
	RuleTurnoverMargin  = "TURNOVER_SUM_MARGIN"
	RuleSectorMismatch  = "SECTOR_MISMATCH"
	RuleFormatting      = "FORMATTING"
	RuleVagueDesc       = "VAGUE_DESCRIPTION"
	RuleModelComment    = "MODEL_COMMENT"
	CINLength           = 21
	TurnoverMin         = 85.0
	TurnoverMax         = 105.0
	TurnoverCleanMin    = 90.0
	TurnoverCleanMax    = 100.0
	MinDescriptionWords = 3
)

// PlaceholderTokens are matched as whole words, case-insensitively.
var PlaceholderTokens = []string{"TBD", "TBA", "XYZ", "Test", "Dummy", "Lorem", "Placeholder"}

// GenericWords mark an activity or product description as vague.
var GenericWords = []string{"others", "other", "misc", "miscellaneous", "various", "general", "n/a", "na"}

// Rule is one check within a tier.
type Rule struct {
	ID          string
	Description string
}

// Tier groups rules of one severity.
type Tier struct {
	Number   int
	Severity schema.Severity
	Label    string
	Rules    []Rule
}

// RuleSet is the complete tiered rule set.
type RuleSet struct {
	Name  string
	Tiers []Tier
}

// Default returns the Section A rule set.
func Default() *RuleSet {
	return &RuleSet{
		Name: "brsr-section-a",
		Tiers: []Tier{
			{
				Number:   1,
				Severity: schema.SeverityCritical,
				Label:    "blocks verification",
				Rules: []Rule{
					{RuleMandatoryField, "Entity name, CIN, incorporation year, registered office address or paid-up capital is empty."},
					{RuleTurnoverSum, fmt.Sprintf("Sum of turnover percentages is outside [%g, %g].", TurnoverMin, TurnoverMax)},
					{RuleCINLength, fmt.Sprintf("CIN is not exactly %d characters long.", CINLength)},
					{RulePlaceholder, "Any field contains an obvious placeholder such as " + strings.Join(PlaceholderTokens, ", ") + "."},
				},
			},
			{
				Number:   2,
				Severity: schema.SeverityWarn,
				Label:    "allowed but noted",
				Rules: []Rule{
					{RuleCINYear, "Incorporation year differs from the year encoded in the CIN (characters 9-12)."},
					{RuleTurnoverMargin, fmt.Sprintf("Sum of turnover percentages is in [%g, %g) or (%g, %g].", TurnoverMin, TurnoverCleanMin, TurnoverCleanMax, TurnoverMax)},
					{RuleSectorMismatch, "Sector described by the entity (CIN industry code) is inconsistent with the stated activities and NIC codes."},
				},
			},
			{
				Number:   3,
				Severity: schema.SeverityInfo,
				Label:    "suggestion only",
				Rules: []Rule{
					{RuleFormatting, "Formatting or capitalization issues in names, CIN or addresses."},
					{RuleVagueDesc, "Vague or generic activity/product descriptions."},
				},
			},
		},
	}
}

// FormatForPrompt returns the rule set as text for the audit prompt. Tier
// names and severity tags are spelled so the model can cite them.
func (rs *RuleSet) FormatForPrompt() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Rule set: %s\n", rs.Name))
	for _, t := range rs.Tiers {
		sb.WriteString(fmt.Sprintf("\nTier %d (%s, %s):\n", t.Number, t.Severity, t.Label))
		for _, r := range t.Rules {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", r.ID, r.Description))
		}
	}
	sb.WriteString("\nVerification is VERIFIED only when there are zero Tier 1 (CRITICAL) findings; otherwise NEEDS_REVIEW.\n")
	return sb.String()
}
