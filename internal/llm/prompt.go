package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/brsrcheck/internal/rules"
	"github.com/dshills/brsrcheck/internal/schema"
)

const extractionPromptBase = `You are an expert financial analyst. Analyze the following annual report text and extract BRSR Section A data.

Task 1: Extract Table 14 - details of business activities accounting for 90% of turnover.
Task 2: Extract Table 15 - products/services sold by the entity accounting for 90% of turnover.

The input text comes from a PDF or Excel file. Look explicitly for "Business Activities", "NIC Code", "Turnover" and "Product/Service".`

const extractionSchema = `{
  "table14": [
    { "mainActivity": "string", "description": "string", "turnoverPercentage": "number (0-100)" }
  ],
  "table15": [
    { "productService": "string", "nicCode": "string", "turnoverPercentage": "number (0-100)" }
  ]
}`

const auditPromptBase = `You are a highly experienced and strict Chartered Accountant (CA) in India, registered with ICAI.
You are auditing "Section A: General Disclosures" of a Business Responsibility and Sustainability Report (BRSR).

Review the entity details and extracted tables below for accuracy, completeness and compliance with SEBI filing norms.
Apply every rule in the tiered rule set and cite the tier of each finding.`

const auditSchema = `{
  "verificationStatus": "VERIFIED" | "NEEDS_REVIEW",
  "auditorComments": [
    "[CRITICAL] Tier 1 finding ...",
    "[WARNING] Tier 2 finding ...",
    "[INFO] Tier 3 suggestion ..."
  ],
  "riskScore": "number (0-100)",
  "caNote": "A professional summary statement from the CA using Indian CA terminology."
}`

// BuildExtractionPrompt constructs the single-document extraction prompt.
// text is expected to be truncated already; truncated adds the note telling
// the model the early content was prioritised.
func BuildExtractionPrompt(text string, entity *schema.EntityProfile, truncated bool) string {
	var sb strings.Builder
	sb.WriteString(extractionPromptBase)
	sb.WriteString("\n\n")

	if entity != nil && (entity.EntityName != "" || entity.CIN != "") {
		sb.WriteString("Entity context (use it to recognise the reporting entity, do not copy it into the tables):\n")
		sb.WriteString(fmt.Sprintf("- Name: %s\n- CIN: %s\n\n", entity.EntityName, entity.CIN))
	}

	sb.WriteString("Return a JSON object with this EXACT structure:\n")
	sb.WriteString(extractionSchema)
	sb.WriteString("\n\nIf data is missing, return empty arrays. Convert percentages to numbers.\n\n")

	sb.WriteString("<document>\n")
	sb.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("</document>\n")
	if truncated {
		sb.WriteString("(Truncated: the document was cut to its opening section, which usually contains the Section A tables.)\n")
	}
	return sb.String()
}

// BuildAuditPrompt constructs the audit prompt from the entity, both tables
// and the tiered rule set.
func BuildAuditPrompt(entity *schema.EntityProfile, ext *schema.ExtractionResult, rs *rules.RuleSet) string {
	if rs == nil {
		rs = rules.Default()
	}
	norm := schema.ExtractionResult{}
	if ext != nil {
		norm = *ext
	}
	norm.Normalize()

	var sb strings.Builder
	sb.WriteString(auditPromptBase)
	sb.WriteString("\n\nEntity Details:\n")
	sb.WriteString(indentJSON(entity))
	sb.WriteString("\n\nExtracted Table 14 (Business Activities):\n")
	sb.WriteString(indentJSON(norm.Table14))
	sb.WriteString("\n\nExtracted Table 15 (Products/Services):\n")
	sb.WriteString(indentJSON(norm.Table15))
	sb.WriteString("\n\n")
	sb.WriteString(rs.FormatForPrompt())
	sb.WriteString("\nPrefix every auditor comment with its severity tag: [CRITICAL], [WARNING] or [INFO].\n")
	sb.WriteString("Return a strictly valid JSON object with this structure (no markdown formatting):\n")
	sb.WriteString(auditSchema)
	sb.WriteString("\n")
	return sb.String()
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}
