package audit

import (
	"regexp"
	"strings"

	"github.com/dshills/brsrcheck/internal/rules"
	"github.com/dshills/brsrcheck/internal/schema"
)

// bracketTag matches a leading "[CRITICAL]", "[Tier 1]", "(WARNING - Tier 2)" etc.
var bracketTag = regexp.MustCompile(`(?i)^\s*[\[(]\s*([^\])]*)[\])]\s*[:\-]?\s*`)

// bareTag matches a leading "CRITICAL:" or "Tier-2 -".
var bareTag = regexp.MustCompile(`(?i)^\s*(critical|warning|warn|info|tier[\s\-]*[123])\s*[:\-]\s*`)

var labelPattern = regexp.MustCompile(`(?i)\b(critical|warning|warn|info|tier[\s\-]*([123]))\b`)

// clauseEnd ends the leading clause of a comment: a colon, a full stop, a
// newline or a spaced dash.
var clauseEnd = regexp.MustCompile(`[:.\n]|\s[\-\x{2013}\x{2014}]+\s`)

var emphasis = strings.NewReplacer("**", "", "__", "", "`", "")

// ParseComment turns a model-authored auditor comment into a finding. The
// severity comes from a leading tag, or failing that from any severity or
// tier named in the comment's leading clause, so "Tier 1 violation: ..." and
// "**CRITICAL**: ..." are CRITICAL. Comments naming no severity are INFO.
func ParseComment(text string) schema.Finding {
	f, _ := parseComment(text)
	return f
}

// parseComment also reports whether the severity was stated by the model
// rather than defaulted.
func parseComment(text string) (schema.Finding, bool) {
	text = strings.TrimLeft(emphasis.Replace(strings.TrimSpace(text)), "*_ ")
	sev := schema.Severity("")
	body := text
	if m := bracketTag.FindStringSubmatch(text); m != nil {
		if s := severityFromLabel(m[1]); s != "" {
			sev = s
			body = text[len(m[0]):]
		}
	}
	if sev == "" {
		if m := bareTag.FindStringSubmatch(text); m != nil {
			sev = severityFromLabel(m[1])
			body = text[len(m[0]):]
		}
	}
	if sev == "" {
		sev = severityFromLabel(leadingClause(text))
	}
	stated := sev != ""
	if !stated {
		sev = schema.SeverityInfo
	}
	return schema.Finding{
		Severity: sev,
		Tier:     sev.Tier(),
		Rule:     rules.RuleModelComment,
		Text:     strings.TrimSpace(body),
		Source:   schema.SourceModel,
	}, stated
}

func leadingClause(text string) string {
	if loc := clauseEnd.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}

// severityFromLabel maps the content of a tag to a severity, taking the most
// severe label it mentions. Returns "" when none is recognised.
func severityFromLabel(label string) schema.Severity {
	best := schema.Severity("")
	for _, m := range labelPattern.FindAllStringSubmatch(label, -1) {
		var s schema.Severity
		switch strings.ToLower(m[1]) {
		case "critical":
			s = schema.SeverityCritical
		case "warning", "warn":
			s = schema.SeverityWarn
		case "info":
			s = schema.SeverityInfo
		default:
			switch m[2] {
			case "1":
				s = schema.SeverityCritical
			case "2":
				s = schema.SeverityWarn
			case "3":
				s = schema.SeverityInfo
			}
		}
		if schema.SeverityOrdinal(s) > schema.SeverityOrdinal(best) {
			best = s
		}
	}
	return best
}

// ParseComments parses every model comment.
func ParseComments(comments []string) []schema.Finding {
	out := make([]schema.Finding, 0, len(comments))
	for _, c := range comments {
		if strings.TrimSpace(c) == "" {
			continue
		}
		out = append(out, ParseComment(c))
	}
	return out
}
