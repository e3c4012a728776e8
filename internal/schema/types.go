package schema

import "strings"

// EntityProfile is the user-supplied entity metadata. It is never modified by
// the pipeline.
type EntityProfile struct {
	CIN               string `json:"cin"`
	EntityName        string `json:"entityName"`
	IncorporationYear string `json:"incorporationYear"`
	RegisteredOffice  string `json:"registeredOffice"`
	PaidUpCapital     string `json:"paidUpCapital"`
}

// ActivityRecord is one row of Table 14 (business activities).
type ActivityRecord struct {
	MainActivity       string  `json:"mainActivity"`
	Description        string  `json:"description"`
	TurnoverPercentage float64 `json:"turnoverPercentage"`
}

// ProductRecord is one row of Table 15 (products/services).
type ProductRecord struct {
	ProductService     string  `json:"productService"`
	NICCode            string  `json:"nicCode"`
	TurnoverPercentage float64 `json:"turnoverPercentage"`
}

// ExtractionResult holds both tables, either for one document or accumulated
// across a batch.
type ExtractionResult struct {
	Table14 []ActivityRecord `json:"table14"`
	Table15 []ProductRecord  `json:"table15"`
}

// Append concatenates other's rows after r's, preserving order. Rows are
// never deduplicated.
func (r *ExtractionResult) Append(other *ExtractionResult) {
	if other == nil {
		return
	}
	r.Table14 = append(r.Table14, other.Table14...)
	r.Table15 = append(r.Table15, other.Table15...)
}

// Normalize replaces nil tables with empty ones so JSON output always carries
// arrays.
func (r *ExtractionResult) Normalize() {
	if r.Table14 == nil {
		r.Table14 = []ActivityRecord{}
	}
	if r.Table15 == nil {
		r.Table15 = []ProductRecord{}
	}
}

// Severity levels for audit findings.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Tier returns the rule tier a severity belongs to: CRITICAL is Tier 1,
// WARNING Tier 2, INFO Tier 3. Returns 0 for an unknown severity.
func (s Severity) Tier() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 3
	}
	return 0
}

// SeverityOrdinal orders severities INFO(0) < WARNING(1) < CRITICAL(2).
// Returns -1 for an unrecognised severity.
func SeverityOrdinal(s Severity) int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarn:
		return 1
	case SeverityCritical:
		return 2
	}
	return -1
}

// FindingSource tells whether a finding came from a deterministic check or
// from a model comment.
type FindingSource string

const (
	SourceLocal FindingSource = "local"
	SourceModel FindingSource = "model"
)

// Finding is one audit observation.
type Finding struct {
	Severity Severity      `json:"severity"`
	Tier     int           `json:"tier"`
	Rule     string        `json:"rule"`
	Text     string        `json:"text"`
	Source   FindingSource `json:"source"`
}

// Comment renders the finding as an auditor comment, "[SEVERITY] text".
func (f Finding) Comment() string {
	return "[" + string(f.Severity) + "] " + f.Text
}

// Status is the audit verification status.
type Status string

const (
	StatusVerified    Status = "VERIFIED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	// StatusUnverified is a legacy spelling accepted on input only.
	StatusUnverified Status = "UNVERIFIED"
)

// NormalizeStatus maps the legacy UNVERIFIED onto NEEDS_REVIEW. ok is false
// for anything that is not a recognised status.
func NormalizeStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusVerified:
		return StatusVerified, true
	case StatusNeedsReview, StatusUnverified:
		return StatusNeedsReview, true
	}
	return "", false
}

// AuditVerdict is the audit outcome. The wire names of the first four fields
// are shared with the model's output contract.
type AuditVerdict struct {
	VerificationStatus Status    `json:"verificationStatus"`
	AuditorComments    []string  `json:"auditorComments"`
	RiskScore          *int      `json:"riskScore,omitempty"`
	CANote             string    `json:"caNote"`
	Findings           []Finding `json:"findings,omitempty"`
	// ModelStatus and ModelRiskScore keep what the model itself reported.
	ModelStatus    Status   `json:"modelStatus,omitempty"`
	ModelRiskScore *float64 `json:"modelRiskScore,omitempty"`
}

// Verified reports whether publication is permitted.
func (v *AuditVerdict) Verified() bool {
	return v != nil && v.VerificationStatus == StatusVerified
}

// Report is the CLI output structure for an audit run.
type Report struct {
	Tool    string       `json:"tool"`
	Version string       `json:"version"`
	Input   Input        `json:"input"`
	Summary Summary      `json:"summary"`
	Verdict AuditVerdict `json:"verdict"`
	Meta    Meta         `json:"meta"`
}

// Input captures what was audited.
type Input struct {
	Snapshot     string        `json:"snapshot"`
	SnapshotHash string        `json:"snapshot_hash"`
	Entity       EntityProfile `json:"entity"`
	Table14Rows  int           `json:"table14_rows"`
	Table15Rows  int           `json:"table15_rows"`
}

// Summary holds the derived status and finding counts.
type Summary struct {
	Status        Status `json:"status"`
	RiskScore     int    `json:"risk_score"`
	CriticalCount int    `json:"critical_count"`
	WarnCount     int    `json:"warn_count"`
	InfoCount     int    `json:"info_count"`
	ModelAgrees   bool   `json:"model_agrees"`
}

// Meta holds runtime metadata about the model call.
type Meta struct {
	Model  string `json:"model"`
	Remote bool   `json:"remote,omitempty"`
}
