// Package snapshot persists the caller-held state passed between the extract,
// audit and report phases: the entity profile, the accumulated tables and,
// once audited, the verdict.
package snapshot

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/brsrcheck/internal/document"
	"github.com/dshills/brsrcheck/internal/schema"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

// Source records a document that contributed rows.
type Source struct {
	Name string        `json:"name"`
	Kind document.Kind `json:"kind"`
	Hash string        `json:"hash"`
}

// Snapshot is the JSON document handed between phases.
type Snapshot struct {
	Version      int                     `json:"version"`
	CreatedAt    time.Time               `json:"createdAt"`
	Entity       schema.EntityProfile    `json:"entity"`
	Extraction   schema.ExtractionResult `json:"extraction"`
	Sources      []Source                `json:"sources,omitempty"`
	Verification *schema.AuditVerdict    `json:"verification,omitempty"`
	// VerifiedHash is the content hash the verdict was produced for.
	VerifiedHash string `json:"verifiedHash,omitempty"`
}

// New builds a snapshot from an extraction run.
func New(entity schema.EntityProfile, ext *schema.ExtractionResult, docs []document.Document) *Snapshot {
	s := &Snapshot{Version: FormatVersion, CreatedAt: time.Now().UTC(), Entity: entity}
	if ext != nil {
		s.Extraction = *ext
	}
	s.Extraction.Normalize()
	for _, d := range docs {
		s.Sources = append(s.Sources, Source{Name: filepath.Base(d.Name), Kind: d.Kind, Hash: d.Hash})
	}
	return s
}

// Load reads a snapshot file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if s.Version > FormatVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", path, s.Version)
	}
	s.Extraction.Normalize()
	if s.Verification != nil {
		st, ok := schema.NormalizeStatus(string(s.Verification.VerificationStatus))
		if !ok {
			return nil, fmt.Errorf("snapshot %s: unknown verificationStatus %q", path, s.Verification.VerificationStatus)
		}
		s.Verification.VerificationStatus = st
	}
	return &s, nil
}

// Save writes the snapshot as indented JSON, replacing path atomically.
func (s *Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Hash is a content hash over the entity and both tables. Metadata and the
// verdict do not contribute.
func (s *Snapshot) Hash() string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(Canonical(s))))
}

// Attach records v as the verdict for the snapshot's current content.
func (s *Snapshot) Attach(v *schema.AuditVerdict) {
	s.Verification = v
	s.VerifiedHash = s.Hash()
}

// VerdictCurrent reports whether the stored verdict was produced for the
// current content. Edits after an audit make it stale.
func (s *Snapshot) VerdictCurrent() bool {
	return s.Verification != nil && s.VerifiedHash == s.Hash()
}

// Canonical renders the audited content one field or row per line, the form
// used for hashing and diffing.
func Canonical(s *Snapshot) string {
	var b strings.Builder
	e := s.Entity
	fmt.Fprintf(&b, "cin: %s\n", e.CIN)
	fmt.Fprintf(&b, "entityName: %s\n", e.EntityName)
	fmt.Fprintf(&b, "incorporationYear: %s\n", e.IncorporationYear)
	fmt.Fprintf(&b, "registeredOffice: %s\n", e.RegisteredOffice)
	fmt.Fprintf(&b, "paidUpCapital: %s\n", e.PaidUpCapital)
	for i, r := range s.Extraction.Table14 {
		fmt.Fprintf(&b, "table14[%d]: %s | %s | %s%%\n", i+1, r.MainActivity, r.Description, pct(r.TurnoverPercentage))
	}
	for i, r := range s.Extraction.Table15 {
		fmt.Fprintf(&b, "table15[%d]: %s | %s | %s%%\n", i+1, r.ProductService, r.NICCode, pct(r.TurnoverPercentage))
	}
	return b.String()
}

func pct(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
