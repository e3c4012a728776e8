package audit

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/brsrcheck/internal/rules"
	"github.com/dshills/brsrcheck/internal/schema"
)

var placeholderPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(rules.PlaceholderTokens, "|") + `)\b`)

// field is one auditable string with a human-readable location.
type field struct {
	where string
	value string
}

// Check runs every deterministic rule against the entity and tables and
// returns the findings in tier order.
func Check(entity *schema.EntityProfile, ext *schema.ExtractionResult) []schema.Finding {
	if entity == nil {
		entity = &schema.EntityProfile{}
	}
	if ext == nil {
		ext = &schema.ExtractionResult{}
	}
	var out []schema.Finding
	out = append(out, checkMandatory(entity)...)
	out = append(out, checkTurnover("Table 14", sum14(ext), len(ext.Table14), true)...)
	out = append(out, checkTurnover("Table 15", sum15(ext), len(ext.Table15), false)...)
	out = append(out, checkCIN(entity)...)
	out = append(out, checkPlaceholders(entity, ext)...)
	out = append(out, checkCINYear(entity)...)
	out = append(out, checkSector(entity, ext)...)
	out = append(out, checkFormatting(entity)...)
	out = append(out, checkVague(ext)...)
	return out
}

func finding(sev schema.Severity, rule, format string, args ...any) schema.Finding {
	return schema.Finding{
		Severity: sev,
		Tier:     sev.Tier(),
		Rule:     rule,
		Text:     fmt.Sprintf(format, args...),
		Source:   schema.SourceLocal,
	}
}

func entityFields(e *schema.EntityProfile) []field {
	return []field{
		{"Entity name", e.EntityName},
		{"CIN", e.CIN},
		{"Incorporation year", e.IncorporationYear},
		{"Registered office address", e.RegisteredOffice},
		{"Paid-up capital", e.PaidUpCapital},
	}
}

func checkMandatory(e *schema.EntityProfile) []schema.Finding {
	var out []schema.Finding
	for _, f := range entityFields(e) {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, finding(schema.SeverityCritical, rules.RuleMandatoryField, "%s is empty.", f.where))
		}
	}
	return out
}

func sum14(ext *schema.ExtractionResult) float64 {
	var s float64
	for _, r := range ext.Table14 {
		s += r.TurnoverPercentage
	}
	return roundPct(s)
}

func sum15(ext *schema.ExtractionResult) float64 {
	var s float64
	for _, r := range ext.Table15 {
		s += r.TurnoverPercentage
	}
	return roundPct(s)
}

// roundPct rounds to two decimals so float accumulation does not move a sum
// across a band edge.
func roundPct(f float64) float64 {
	return math.Round(f*100) / 100
}

// TurnoverBand classifies a turnover sum: "critical" outside [85,105],
// "margin" in [85,90) or (100,105], "ok" in [90,100].
func TurnoverBand(sum float64) string {
	switch {
	case sum < rules.TurnoverMin || sum > rules.TurnoverMax:
		return "critical"
	case sum < rules.TurnoverCleanMin || sum > rules.TurnoverCleanMax:
		return "margin"
	default:
		return "ok"
	}
}

func checkTurnover(table string, sum float64, rows int, required bool) []schema.Finding {
	if rows == 0 && !required {
		return nil
	}
	switch TurnoverBand(sum) {
	case "critical":
		return []schema.Finding{finding(schema.SeverityCritical, rules.RuleTurnoverSum,
			"%s turnover percentages sum to %s%%, outside the accepted range [%g, %g].",
			table, fmtPct(sum), rules.TurnoverMin, rules.TurnoverMax)}
	case "margin":
		return []schema.Finding{finding(schema.SeverityWarn, rules.RuleTurnoverMargin,
			"%s turnover percentages sum to %s%%, within tolerance but outside [%g, %g].",
			table, fmtPct(sum), rules.TurnoverCleanMin, rules.TurnoverCleanMax)}
	}
	return nil
}

func fmtPct(f float64) string {
	return strconv.FormatFloat(roundPct(f), 'f', -1, 64)
}

func checkCIN(e *schema.EntityProfile) []schema.Finding {
	cin := strings.TrimSpace(e.CIN)
	if cin == "" {
		return nil
	}
	if n := utf8.RuneCountInString(cin); n != rules.CINLength {
		return []schema.Finding{finding(schema.SeverityCritical, rules.RuleCINLength,
			"CIN %q has %d characters; a valid CIN has exactly %d.", cin, n, rules.CINLength)}
	}
	return nil
}

func checkPlaceholders(e *schema.EntityProfile, ext *schema.ExtractionResult) []schema.Finding {
	fields := entityFields(e)
	for i, r := range ext.Table14 {
		fields = append(fields,
			field{fmt.Sprintf("Table 14 row %d activity", i+1), r.MainActivity},
			field{fmt.Sprintf("Table 14 row %d description", i+1), r.Description})
	}
	for i, r := range ext.Table15 {
		fields = append(fields,
			field{fmt.Sprintf("Table 15 row %d product/service", i+1), r.ProductService},
			field{fmt.Sprintf("Table 15 row %d NIC code", i+1), r.NICCode})
	}

	var out []schema.Finding
	for _, f := range fields {
		if m := placeholderPattern.FindString(f.value); m != "" {
			out = append(out, finding(schema.SeverityCritical, rules.RulePlaceholder,
				"%s contains placeholder token %q.", f.where, m))
		}
	}
	return out
}

// cinValid reports whether the CIN has the standard length, so positional
// fields can be read from it.
func cinValid(e *schema.EntityProfile) (string, bool) {
	cin := strings.TrimSpace(e.CIN)
	return cin, utf8.RuneCountInString(cin) == rules.CINLength
}

// CINYear returns the incorporation year encoded in characters 9-12 of a CIN.
func CINYear(cin string) string {
	r := []rune(cin)
	if len(r) < 12 {
		return ""
	}
	return string(r[8:12])
}

// CINIndustry returns the industry code encoded in characters 2-6 of a CIN.
func CINIndustry(cin string) string {
	r := []rune(cin)
	if len(r) < 6 {
		return ""
	}
	return string(r[1:6])
}

func checkCINYear(e *schema.EntityProfile) []schema.Finding {
	cin, ok := cinValid(e)
	year := strings.TrimSpace(e.IncorporationYear)
	if !ok || year == "" {
		return nil
	}
	if cy := CINYear(cin); cy != year {
		return []schema.Finding{finding(schema.SeverityWarn, rules.RuleCINYear,
			"Incorporation year %s does not match the year %s encoded in the CIN.", year, cy)}
	}
	return nil
}

func checkSector(e *schema.EntityProfile, ext *schema.ExtractionResult) []schema.Finding {
	cin, ok := cinValid(e)
	if !ok || len(ext.Table15) == 0 {
		return nil
	}
	industry := CINIndustry(cin)
	if !allDigits(industry) {
		return nil
	}
	division := industry[:2]

	var divisions []string
	for _, r := range ext.Table15 {
		code := strings.TrimSpace(r.NICCode)
		if len(code) >= 2 && allDigits(code[:2]) {
			if code[:2] == division {
				return nil
			}
			divisions = append(divisions, code[:2])
		}
	}
	if len(divisions) == 0 {
		return nil
	}
	return []schema.Finding{finding(schema.SeverityWarn, rules.RuleSectorMismatch,
		"CIN industry code %s (NIC division %s) matches none of the Table 15 NIC divisions %s.",
		industry, division, strings.Join(divisions, ", "))}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func checkFormatting(e *schema.EntityProfile) []schema.Finding {
	var out []schema.Finding
	for _, f := range entityFields(e) {
		if f.value != "" && f.value != strings.TrimSpace(f.value) {
			out = append(out, finding(schema.SeverityInfo, rules.RuleFormatting,
				"%s has leading or trailing whitespace.", f.where))
		}
	}
	name := strings.TrimSpace(e.EntityName)
	if hasLetters(name) {
		switch name {
		case strings.ToLower(name):
			out = append(out, finding(schema.SeverityInfo, rules.RuleFormatting,
				"Entity name %q is all lowercase; use the registered capitalisation.", name))
		case strings.ToUpper(name):
			out = append(out, finding(schema.SeverityInfo, rules.RuleFormatting,
				"Entity name %q is all uppercase; use the registered capitalisation.", name))
		}
	}
	cin := strings.TrimSpace(e.CIN)
	if cin != strings.ToUpper(cin) {
		out = append(out, finding(schema.SeverityInfo, rules.RuleFormatting,
			"CIN %q should be written in uppercase.", cin))
	}
	return out
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func checkVague(ext *schema.ExtractionResult) []schema.Finding {
	var out []schema.Finding
	for i, r := range ext.Table14 {
		if why := vague(r.Description, true); why != "" {
			out = append(out, finding(schema.SeverityInfo, rules.RuleVagueDesc,
				"Table 14 row %d description %s.", i+1, why))
		}
	}
	for i, r := range ext.Table15 {
		if why := vague(r.ProductService, false); why != "" {
			out = append(out, finding(schema.SeverityInfo, rules.RuleVagueDesc,
				"Table 15 row %d product/service %s.", i+1, why))
		}
	}
	return out
}

// vague returns why a description is vague, or "" when it is acceptable.
func vague(s string, minWords bool) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return "is missing"
	}
	words := strings.Fields(strings.ToLower(s))
	generic := true
	for _, w := range words {
		if !isGeneric(strings.Trim(w, ".,;:()")) {
			generic = false
			break
		}
	}
	if generic {
		return fmt.Sprintf("%q is generic", s)
	}
	if minWords && len(words) < rules.MinDescriptionWords {
		return fmt.Sprintf("%q is too brief to describe the activity", s)
	}
	return ""
}

func isGeneric(w string) bool {
	for _, g := range rules.GenericWords {
		if w == g {
			return true
		}
	}
	return false
}
