// Package gate decides whether an audit verdict permits publishing the
// Section A PDF.
package gate

import (
	"fmt"

	"github.com/dshills/brsrcheck/internal/audit"
	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/schema"
)

// Check returns nil when v permits publication. The verdict must say
// VERIFIED and carry no CRITICAL-tagged comment; a caller-supplied verdict
// that claims VERIFIED alongside a CRITICAL comment is refused as
// inconsistent. Refusals wrap errs.ErrNotVerified.
func Check(v *schema.AuditVerdict) error {
	if v == nil {
		return fmt.Errorf("%w: no audit verdict", errs.ErrNotVerified)
	}
	status, ok := schema.NormalizeStatus(string(v.VerificationStatus))
	if !ok {
		return fmt.Errorf("%w: unknown status %q", errs.ErrNotVerified, v.VerificationStatus)
	}
	if status != schema.StatusVerified {
		return fmt.Errorf("%w: status is %s", errs.ErrNotVerified, status)
	}
	for _, f := range audit.ParseComments(v.AuditorComments) {
		if f.Severity == schema.SeverityCritical {
			return fmt.Errorf("%w: verdict carries a critical finding: %s", errs.ErrNotVerified, f.Text)
		}
	}
	return nil
}
