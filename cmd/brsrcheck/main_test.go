package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	llmpkg "github.com/dshills/brsrcheck/internal/llm"
	"github.com/dshills/brsrcheck/internal/schema"
	"github.com/dshills/brsrcheck/internal/snapshot"
)

// testdataDir is the root of the testdata directory.
const testdataDir = "../../testdata"

const (
	extractionContent = `{"table14":[{"mainActivity":"Manufacturing","description":"Manufacture of solar photovoltaic modules","turnoverPercentage":95}],` +
		`"table15":[{"productService":"Solar PV Modules","nicCode":"27101","turnoverPercentage":95}]}`
	verifiedContent = `{"verificationStatus":"VERIFIED","auditorComments":["[INFO] Descriptions are adequate."],"riskScore":98,"caNote":"The disclosures present a true and fair view."}`
)

// mockReply is one scripted response of the mock OpenAI server.
type mockReply struct {
	status  int
	content string
}

// setupMockOpenAIServer serves replies in order, repeating the last one, and
// points the OpenAI provider at it for the test's duration.
func setupMockOpenAIServer(t *testing.T, replies ...mockReply) *int {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		calls++
		mu.Unlock()
		if i >= len(replies) {
			i = len(replies) - 1
		}
		rep := replies[i]
		w.Header().Set("Content-Type", "application/json")
		if rep.status != 0 && rep.status != http.StatusOK {
			w.WriteHeader(rep.status)
			w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_exceeded"}}`)) //nolint:errcheck
			return
		}
		body, _ := json.Marshal(map[string]any{
			"model":   "gpt-test",
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": rep.content}}},
		})
		w.Write(body) //nolint:errcheck
	}))
	original := llmpkg.OpenAIAPIURL()
	llmpkg.SetOpenAIAPIURL(srv.URL)
	t.Cleanup(func() {
		srv.Close()
		llmpkg.SetOpenAIAPIURL(original)
	})
	return &calls
}

// recordSleeps replaces the package sleeper for the test's duration.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

// setTestEnv pins the environment so the host's settings cannot leak in.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key-for-integration-tests")
	t.Setenv("BRSR_REMOTE_URL", "")
	t.Setenv("BRSR_MODEL", "")
	t.Setenv("BRSR_PACING", "")
	t.Setenv("BRSR_MAX_ATTEMPTS", "")
	t.Setenv("BRSR_BASE_DELAY", "")
	t.Setenv("BRSR_BACKOFF_MULTIPLIER", "")
}

func testFlags() globalFlags {
	return globalFlags{model: "openai:gpt-test", temperature: 0.2, maxTokens: 4096}
}

func entityPath(name string) string { return filepath.Join(testdataDir, "entities", name) }
func docPath(name string) string    { return filepath.Join(testdataDir, "docs", name) }

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

// writeSnapshot stores a snapshot for the given entity fixture with one row
// per table.
func writeSnapshot(t *testing.T, entityFile string, v *schema.AuditVerdict) string {
	t.Helper()
	e, err := loadEntity(entityPath(entityFile))
	if err != nil {
		t.Fatal(err)
	}
	snap := snapshot.New(*e, &schema.ExtractionResult{
		Table14: []schema.ActivityRecord{{MainActivity: "Manufacturing", Description: "Manufacture of solar photovoltaic modules", TurnoverPercentage: 95}},
		Table15: []schema.ProductRecord{{ProductService: "Solar PV Modules", NICCode: "27101", TurnoverPercentage: 95}},
	}, nil)
	if v != nil {
		snap.Attach(v)
	}
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := snap.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- extract ---

func TestRunExtract_WritesSnapshot(t *testing.T) {
	setTestEnv(t)
	calls := setupMockOpenAIServer(t, mockReply{content: extractionContent})
	delays := recordSleeps(t)

	out := filepath.Join(t.TempDir(), "snap.json")
	err := runExtract(context.Background(), testFlags(), extractFlags{entity: entityPath("acme.json"), out: out},
		[]string{docPath("annual_report.txt"), docPath("segment_note.txt")})
	if err != nil {
		t.Fatalf("runExtract: %v", err)
	}

	snap, err := snapshot.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Extraction.Table14) != 2 || len(snap.Extraction.Table15) != 2 {
		t.Errorf("rows = %d/%d, want 2/2", len(snap.Extraction.Table14), len(snap.Extraction.Table15))
	}
	if len(snap.Sources) != 2 || snap.Sources[0].Name != "annual_report.txt" {
		t.Errorf("sources = %+v", snap.Sources)
	}
	if *calls != 2 {
		t.Errorf("model calls = %d, want 2", *calls)
	}
	if len(*delays) != 1 || (*delays)[0] != 12*time.Second {
		t.Errorf("delays = %v, want one 12s pacing wait", *delays)
	}
}

func TestRunExtract_MissingCredential(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	calls := setupMockOpenAIServer(t, mockReply{content: extractionContent})
	recordSleeps(t)

	err := runExtract(context.Background(), testFlags(), extractFlags{entity: entityPath("acme.json"), out: filepath.Join(t.TempDir(), "s.json")},
		[]string{docPath("annual_report.txt")})
	if exitCode(err) != 4 {
		t.Fatalf("want exit 4, got %v", err)
	}
	if *calls != 0 {
		t.Errorf("model was called %d times without a credential", *calls)
	}
}

func TestRunExtract_APIKeyFlag(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	setupMockOpenAIServer(t, mockReply{content: extractionContent})
	recordSleeps(t)

	flags := testFlags()
	flags.apiKey = "user-supplied-key"
	err := runExtract(context.Background(), flags, extractFlags{entity: entityPath("acme.json"), out: filepath.Join(t.TempDir(), "s.json")},
		[]string{docPath("annual_report.txt")})
	if err != nil {
		t.Fatalf("runExtract: %v", err)
	}
}

func TestRunExtract_InputErrors(t *testing.T) {
	setTestEnv(t)
	recordSleeps(t)
	out := filepath.Join(t.TempDir(), "s.json")

	if err := runExtract(context.Background(), testFlags(), extractFlags{out: out}, []string{docPath("annual_report.txt")}); exitCode(err) != 3 {
		t.Errorf("missing --entity: want exit 3, got %v", err)
	}
	if err := runExtract(context.Background(), testFlags(), extractFlags{entity: entityPath("acme.json"), out: out}, []string{"report.docx"}); exitCode(err) != 3 {
		t.Errorf("unsupported document: want exit 3, got %v", err)
	}
	flags := testFlags()
	flags.model = "nope"
	if err := runExtract(context.Background(), flags, extractFlags{entity: entityPath("acme.json"), out: out}, []string{docPath("annual_report.txt")}); exitCode(err) != 3 {
		t.Errorf("bad model: want exit 3, got %v", err)
	}
}

// --- audit ---

func TestRunAudit_VerifiedAndSaved(t *testing.T) {
	setTestEnv(t)
	setupMockOpenAIServer(t, mockReply{content: verifiedContent})
	recordSleeps(t)

	snapPath := writeSnapshot(t, "acme.json", nil)
	out := filepath.Join(t.TempDir(), "verdict.json")
	err := runAudit(context.Background(), testFlags(), auditFlags{format: "json", out: out, failOnReview: true, save: true}, snapPath)
	if err != nil {
		t.Fatalf("runAudit: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var report schema.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, data)
	}
	if report.Summary.Status != schema.StatusVerified {
		t.Errorf("status = %s, want VERIFIED", report.Summary.Status)
	}
	if !report.Summary.ModelAgrees {
		t.Error("model should agree")
	}
	if report.Input.Table14Rows != 1 || report.Meta.Model != "openai:gpt-test" {
		t.Errorf("input/meta = %+v %+v", report.Input, report.Meta)
	}

	snap, err := snapshot.Load(snapPath)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.VerdictCurrent() {
		t.Error("verdict should be stored in the snapshot")
	}
}

func TestRunAudit_OverriddenVerdictFailsOnReview(t *testing.T) {
	setTestEnv(t)
	// The model says VERIFIED; the empty registered office is a critical finding.
	setupMockOpenAIServer(t, mockReply{content: verifiedContent})
	recordSleeps(t)

	snapPath := writeSnapshot(t, "missing_office.json", nil)
	out := filepath.Join(t.TempDir(), "verdict.md")
	err := runAudit(context.Background(), testFlags(), auditFlags{format: "md", out: out, failOnReview: true}, snapPath)
	if exitCode(err) != 2 {
		t.Fatalf("want exit 2, got %v", err)
	}
	data, _ := os.ReadFile(out)
	if !bytes.Contains(data, []byte("NEEDS_REVIEW")) {
		t.Errorf("markdown missing status:\n%s", data)
	}
}

func TestRunAudit_Malformed(t *testing.T) {
	setTestEnv(t)
	setupMockOpenAIServer(t, mockReply{content: "I am unable to audit this."})
	recordSleeps(t)

	err := runAudit(context.Background(), testFlags(), auditFlags{format: "json", out: filepath.Join(t.TempDir(), "v.json")}, writeSnapshot(t, "acme.json", nil))
	if exitCode(err) != 6 {
		t.Fatalf("want exit 6, got %v", err)
	}
}

func TestRunAudit_RateLimitExhausted(t *testing.T) {
	setTestEnv(t)
	calls := setupMockOpenAIServer(t, mockReply{status: http.StatusTooManyRequests})
	delays := recordSleeps(t)

	err := runAudit(context.Background(), testFlags(), auditFlags{format: "json", out: filepath.Join(t.TempDir(), "v.json")}, writeSnapshot(t, "acme.json", nil))
	if exitCode(err) != 5 {
		t.Fatalf("want exit 5, got %v", err)
	}
	if *calls != 5 {
		t.Errorf("calls = %d, want 5", *calls)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, (*delays)[i], want[i])
		}
	}
}

func TestRunAudit_SeverityThreshold(t *testing.T) {
	setTestEnv(t)
	setupMockOpenAIServer(t, mockReply{content: verifiedContent})
	recordSleeps(t)

	snapPath := writeSnapshot(t, "acme.json", nil)
	out := filepath.Join(t.TempDir(), "verdict.json")
	err := runAudit(context.Background(), testFlags(), auditFlags{format: "json", out: out, severity: "warning", save: true}, snapPath)
	if err != nil {
		t.Fatalf("runAudit: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var report schema.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if report.Summary.InfoCount == 0 {
		t.Error("summary should still count INFO findings")
	}
	for _, f := range report.Verdict.Findings {
		if f.Severity == schema.SeverityInfo {
			t.Errorf("INFO finding listed above threshold: %+v", f)
		}
	}
	for _, c := range report.Verdict.AuditorComments {
		if strings.HasPrefix(c, "[INFO]") {
			t.Errorf("INFO comment listed above threshold: %s", c)
		}
	}

	snap, err := snapshot.Load(snapPath)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Verification == nil || !slices.Contains(snap.Verification.AuditorComments, "[INFO] Descriptions are adequate.") {
		t.Errorf("stored verdict must keep every comment: %+v", snap.Verification)
	}
}

func TestRunAudit_BadSeverity(t *testing.T) {
	setTestEnv(t)
	err := runAudit(context.Background(), testFlags(), auditFlags{format: "json", severity: "fatal"}, writeSnapshot(t, "acme.json", nil))
	if exitCode(err) != 3 {
		t.Fatalf("want exit 3, got %v", err)
	}
}

func TestRunAudit_BadFormat(t *testing.T) {
	setTestEnv(t)
	err := runAudit(context.Background(), testFlags(), auditFlags{format: "xml"}, writeSnapshot(t, "acme.json", nil))
	if exitCode(err) != 3 {
		t.Fatalf("want exit 3, got %v", err)
	}
}

// --- report ---

func TestRunReport_UsesStoredVerdict(t *testing.T) {
	setTestEnv(t)
	calls := setupMockOpenAIServer(t, mockReply{content: verifiedContent})
	recordSleeps(t)

	snapPath := writeSnapshot(t, "acme.json", &schema.AuditVerdict{VerificationStatus: schema.StatusVerified})
	out := filepath.Join(t.TempDir(), "section_a.pdf")
	if err := runReport(context.Background(), testFlags(), reportFlags{out: out}, snapPath); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	if *calls != 0 {
		t.Errorf("a current verdict should not trigger a model call, got %d", *calls)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Error("output is not a PDF")
	}
}

func TestRunReport_AuditsWhenNoVerdict(t *testing.T) {
	setTestEnv(t)
	calls := setupMockOpenAIServer(t, mockReply{content: verifiedContent})
	recordSleeps(t)

	out := filepath.Join(t.TempDir(), "section_a.pdf")
	if err := runReport(context.Background(), testFlags(), reportFlags{out: out}, writeSnapshot(t, "acme.json", nil)); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestRunReport_RefusesUnverified(t *testing.T) {
	setTestEnv(t)
	recordSleeps(t)

	snapPath := writeSnapshot(t, "acme.json", &schema.AuditVerdict{VerificationStatus: schema.StatusNeedsReview})
	out := filepath.Join(t.TempDir(), "section_a.pdf")
	err := runReport(context.Background(), testFlags(), reportFlags{out: out}, snapPath)
	if exitCode(err) != 2 {
		t.Fatalf("want exit 2, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no PDF should be written for an unverified snapshot")
	}
}

// --- remote ---

func TestRunExtract_Remote(t *testing.T) {
	setTestEnv(t)
	delays := recordSleeps(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != schema.PathExtract {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"fetch failed"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(extractionContent)) //nolint:errcheck
	}))
	defer srv.Close()

	flags := testFlags()
	flags.remote = srv.URL
	out := filepath.Join(t.TempDir(), "s.json")
	if err := runExtract(context.Background(), flags, extractFlags{entity: entityPath("acme.json"), out: out}, []string{docPath("annual_report.txt")}); err != nil {
		t.Fatalf("runExtract: %v", err)
	}
	if calls != 2 || len(*delays) != 1 || (*delays)[0] != 10*time.Second {
		t.Errorf("calls=%d delays=%v", calls, *delays)
	}
}

// --- diff / flags ---

func TestRunDiff(t *testing.T) {
	a := writeSnapshot(t, "acme.json", nil)
	b := writeSnapshot(t, "missing_office.json", nil)
	if err := runDiff(a, b); err != nil {
		t.Errorf("runDiff: %v", err)
	}
	if err := runDiff(a, filepath.Join(t.TempDir(), "missing.json")); exitCode(err) != 3 {
		t.Errorf("missing snapshot: want exit 3, got %v", err)
	}
}

func TestValidateFlags(t *testing.T) {
	if err := validateFlags(testFlags()); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
	f := testFlags()
	f.temperature = 3
	if validateFlags(f) == nil {
		t.Error("temperature 3 accepted")
	}
	f = testFlags()
	f.maxTokens = 0
	if validateFlags(f) == nil {
		t.Error("max-tokens 0 accepted")
	}
}
