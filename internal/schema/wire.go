package schema

// HTTP routes served by brsrd.
const (
	PathExtract     = "/extract-data"
	PathAudit       = "/audit-and-verify"
	PathGeneratePDF = "/generate-pdf"
)

// ExtractRequest is the body of POST /extract-data.
type ExtractRequest struct {
	Text   string         `json:"text"`
	APIKey string         `json:"apiKey,omitempty"`
	Entity *EntityProfile `json:"entity,omitempty"`
}

// AuditRequest is the body of POST /audit-and-verify.
type AuditRequest struct {
	FormData      *EntityProfile    `json:"formData"`
	ExtractedData *ExtractionResult `json:"extractedData"`
	UserAPIKey    string            `json:"userApiKey,omitempty"`
}

// PDFRequest is the body of POST /generate-pdf.
type PDFRequest struct {
	FormData      *EntityProfile    `json:"formData"`
	ExtractedData *ExtractionResult `json:"extractedData"`
	Verification  *AuditVerdict     `json:"verification"`
}

// ErrorResponse is the body of every non-2xx response. Kind is the
// errs.Kind label of the failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
