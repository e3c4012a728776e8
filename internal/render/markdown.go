package render

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/dshills/brsrcheck/internal/schema"
)

type markdownRenderer struct{}

var mdTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"dash": orDash,
}).Parse(`# BRSR Section A Audit

**Status:** {{ .Summary.Status }}
**Risk score:** {{ .Summary.RiskScore }}/100
**Critical:** {{ .Summary.CriticalCount }} | **Warn:** {{ .Summary.WarnCount }} | **Info:** {{ .Summary.InfoCount }}
{{ if not .Summary.ModelAgrees }}> Note: the model reported {{ .Verdict.ModelStatus }}; the status above is derived from the findings.
{{ end }}
---

## Entity

| Field | Details |
|---|---|
| CIN | {{ dash .Input.Entity.CIN }} |
| Name | {{ dash .Input.Entity.EntityName }} |
| Year of incorporation | {{ dash .Input.Entity.IncorporationYear }} |
| Registered office | {{ dash .Input.Entity.RegisteredOffice }} |
| Paid-up capital | {{ dash .Input.Entity.PaidUpCapital }} |

Table 14 rows: {{ .Input.Table14Rows }} | Table 15 rows: {{ .Input.Table15Rows }}
{{ if .Verdict.Findings }}
---

## Findings
{{ range .Verdict.Findings }}
- **{{ .Severity }}** · Tier {{ .Tier }} · {{ .Rule }} ({{ .Source }}): {{ .Text }}{{ end }}
{{ end }}
---

## CA Note

{{ dash .Verdict.CANote }}

---
*Model: {{ .Meta.Model }}{{ if .Meta.Remote }} (remote){{ end }} | Snapshot: {{ .Input.Snapshot }} {{ .Input.SnapshotHash }}*
`))

func (r *markdownRenderer) Render(report *schema.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
