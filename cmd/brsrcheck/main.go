package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/audit"
	"github.com/dshills/brsrcheck/internal/config"
	"github.com/dshills/brsrcheck/internal/document"
	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/extract"
	"github.com/dshills/brsrcheck/internal/gate"
	"github.com/dshills/brsrcheck/internal/llm"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/remote"
	"github.com/dshills/brsrcheck/internal/render"
	"github.com/dshills/brsrcheck/internal/retry"
	"github.com/dshills/brsrcheck/internal/schema"
	"github.com/dshills/brsrcheck/internal/snapshot"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// sleep is swapped out by tests so retry and pacing schedules run instantly.
var sleep retry.Sleeper = retry.ContextSleep

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags are shared by every command.
type globalFlags struct {
	apiKey      string
	model       string
	remote      string
	temperature float64
	maxTokens   int
	verbose     bool
	debug       bool
}

type extractFlags struct {
	entity string
	out    string
}

type auditFlags struct {
	format       string
	out          string
	severity     string
	failOnReview bool
	save         bool
}

type reportFlags struct {
	out string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brsrcheck",
		Short:         "Extract, audit and publish BRSR Section A disclosures",
		Long:          "brsrcheck extracts Tables 14 and 15 of a BRSR Section A filing from annual-report documents, audits them against tiered compliance rules and renders the Section A PDF once the audit passes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var g globalFlags
	pf := root.PersistentFlags()
	pf.StringVar(&g.apiKey, "api-key", "", "Model API key for this run (overrides the provider's environment variable)")
	pf.StringVar(&g.model, "model", "", "Model as provider:model (default from BRSR_MODEL, else "+config.DefaultModel+")")
	pf.StringVar(&g.remote, "remote", "", "Base URL of a brsrd service to call instead of the model (default from BRSR_REMOTE_URL)")
	pf.Float64Var(&g.temperature, "temperature", 0.2, "LLM temperature")
	pf.IntVar(&g.maxTokens, "max-tokens", 8192, "Maximum response tokens")
	pf.BoolVar(&g.verbose, "verbose", false, "Log processing steps to stderr")
	pf.BoolVar(&g.debug, "debug", false, "Log redacted prompts and model responses to stderr; use only in trusted environments")

	var ef extractFlags
	extractCmd := &cobra.Command{
		Use:   "extract <document>...",
		Short: "Extract Tables 14 and 15 from annual-report documents into a snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), g, ef, args)
		},
	}
	extractCmd.Flags().StringVar(&ef.entity, "entity", "", "Entity profile JSON file (cin, entityName, incorporationYear, registeredOffice, paidUpCapital)")
	extractCmd.Flags().StringVar(&ef.out, "out", "snapshot.json", "Snapshot file to write")

	var af auditFlags
	auditCmd := &cobra.Command{
		Use:   "audit <snapshot>",
		Short: "Audit a snapshot and report the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), g, af, args[0])
		},
	}
	auditCmd.Flags().StringVar(&af.format, "format", "json", "Output format: json or md")
	auditCmd.Flags().StringVar(&af.out, "out", "", "Write output to file instead of stdout")
	auditCmd.Flags().StringVar(&af.severity, "severity", "info", "Minimum severity to list: info, warning or critical")
	auditCmd.Flags().BoolVar(&af.failOnReview, "fail-on-review", false, "Exit 2 unless the verdict is VERIFIED")
	auditCmd.Flags().BoolVar(&af.save, "save", true, "Store the verdict in the snapshot")

	var rf reportFlags
	reportCmd := &cobra.Command{
		Use:   "report <snapshot>",
		Short: "Render the Section A PDF for a VERIFIED snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), g, rf, args[0])
		},
	}
	reportCmd.Flags().StringVar(&rf.out, "out", render.PDFFileName, "PDF file to write")

	diffCmd := &cobra.Command{
		Use:   "diff <old-snapshot> <new-snapshot>",
		Short: "Show what changed between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(args[0], args[1])
		},
	}

	root.AddCommand(extractCmd, auditCmd, reportCmd, diffCmd)
	return root
}

// pipeline is the set of collaborators a command runs against: either the
// model directly or a remote brsrd service.
type pipeline struct {
	cfg       *config.Config
	log       *zap.Logger
	extractor extract.DocumentExtractor
	auditor   audit.Auditor
	pdf       func(ctx context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, v *schema.AuditVerdict) ([]byte, error)
	keyEnv    string
}

func buildPipeline(g globalFlags) (*pipeline, error) {
	if err := validateFlags(g); err != nil {
		return nil, codeError(3, "invalid flags: %s", err)
	}

	cfg := config.Load()
	if g.model != "" {
		cfg.Model.Spec = g.model
	}
	if g.remote != "" {
		cfg.Remote.URL = g.remote
	}
	if err := cfg.Validate(); err != nil {
		return nil, codeError(3, "invalid configuration: %s", err)
	}

	logCfg := logging.Config{Level: "warn", Format: "console"}
	switch {
	case g.debug:
		logCfg.Level = "debug"
	case g.verbose:
		logCfg.Level = "info"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, codeError(3, "creating logger: %s", err)
	}

	p := &pipeline{cfg: cfg, log: log, keyEnv: llm.KeyEnv(cfg.Model.Spec)}
	if cfg.Remote.URL != "" {
		rc, err := remote.New(remote.Config{BaseURL: cfg.Remote.URL, Retry: cfg.Remote.Retry, Sleep: sleep, Logger: log})
		if err != nil {
			return nil, codeError(3, "%s", err)
		}
		p.extractor, p.auditor, p.pdf = rc, rc, rc.RenderPDF
		return p, nil
	}

	provider, err := llm.NewProvider(cfg.Model.Spec)
	if err != nil {
		return nil, codeError(3, "creating LLM provider: %s", err)
	}
	defaultKey := os.Getenv(p.keyEnv)
	if p.keyEnv == "GEMINI_API_KEY" {
		defaultKey = cfg.Model.DefaultAPIKey
	}
	client := llm.NewClient(provider, llm.Config{
		DefaultAPIKey: defaultKey,
		Retry:         cfg.Model.Retry,
		Sleep:         sleep,
		Temperature:   g.temperature,
		MaxTokens:     g.maxTokens,
		Timeout:       cfg.Model.Timeout,
		Logger:        log,
		Debug:         g.debug,
	})
	p.extractor = extract.NewModelExtractor(client, cfg.Extract.MaxChars, log)
	p.auditor = audit.NewEngine(client, nil, log)
	p.pdf = renderLocal
	return p, nil
}

func renderLocal(_ context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, v *schema.AuditVerdict) ([]byte, error) {
	if err := gate.Check(v); err != nil {
		return nil, err
	}
	return render.SectionA(entity, ext)
}

// fail maps a pipeline error onto the exit-code contract.
func (p *pipeline) fail(stage string, err error) error {
	switch {
	case errors.Is(err, errs.ErrMissingCredential):
		return codeError(4, "%s: API Key missing: set %s or pass --api-key", stage, p.keyEnv)
	case errors.Is(err, errs.ErrNotVerified):
		return codeError(2, "%s: %s", stage, err)
	case errors.Is(err, errs.ErrMalformedResponse):
		return codeError(6, "%s: %s", stage, err)
	default:
		return codeError(5, "%s: service unavailable: %s", stage, err)
	}
}

func runExtract(ctx context.Context, g globalFlags, f extractFlags, paths []string) error {
	entity, err := loadEntity(f.entity)
	if err != nil {
		return codeError(3, "loading entity: %s", err)
	}
	docs, err := document.LoadAll(paths)
	if err != nil {
		return codeError(3, "%s", err)
	}

	p, err := buildPipeline(g)
	if err != nil {
		return err
	}
	defer p.log.Sync() //nolint:errcheck

	o := extract.NewOrchestrator(p.extractor, extract.Config{Pacing: p.cfg.Extract.Pacing, Sleep: sleep, Logger: p.log})
	res, err := o.Extract(ctx, docs, entity, g.apiKey)
	if err != nil {
		return p.fail("extract", err)
	}

	snap := snapshot.New(*entity, res, docs)
	if err := snap.Save(f.out); err != nil {
		return codeError(3, "%s", err)
	}
	fmt.Fprintf(os.Stderr, "Extracted %d Table 14 row(s) and %d Table 15 row(s) from %d document(s) into %s\n",
		len(res.Table14), len(res.Table15), len(docs), f.out)
	return nil
}

func runAudit(ctx context.Context, g globalFlags, f auditFlags, snapPath string) error {
	renderer, err := render.NewRenderer(f.format)
	if err != nil {
		return codeError(3, "invalid format: %s", err)
	}
	threshold, err := parseSeverity(f.severity)
	if err != nil {
		return codeError(3, "%s", err)
	}
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return codeError(3, "%s", err)
	}

	p, err := buildPipeline(g)
	if err != nil {
		return err
	}
	defer p.log.Sync() //nolint:errcheck

	verdict, err := p.auditor.Audit(ctx, &snap.Entity, &snap.Extraction, g.apiKey)
	if err != nil {
		return p.fail("audit", err)
	}

	if f.save {
		snap.Attach(verdict)
		if err := snap.Save(snapPath); err != nil {
			return codeError(3, "%s", err)
		}
	}

	report := &schema.Report{
		Tool:    "brsrcheck",
		Version: version,
		Input: schema.Input{
			Snapshot:     snapPath,
			SnapshotHash: snap.Hash(),
			Entity:       snap.Entity,
			Table14Rows:  len(snap.Extraction.Table14),
			Table15Rows:  len(snap.Extraction.Table15),
		},
		Summary: audit.Summarize(verdict),
		Verdict: *verdict,
		Meta:    schema.Meta{Model: p.cfg.Model.Spec, Remote: p.cfg.Remote.URL != ""},
	}
	if threshold != schema.SeverityInfo {
		listed := audit.FilterBySeverity(verdict.Findings, threshold)
		report.Verdict.Findings = listed
		report.Verdict.AuditorComments = make([]string, 0, len(listed))
		for _, fd := range listed {
			report.Verdict.AuditorComments = append(report.Verdict.AuditorComments, fd.Comment())
		}
	}
	out, err := renderer.Render(report)
	if err != nil {
		return codeError(3, "rendering output: %s", err)
	}
	if err := writeOutput(f.out, out); err != nil {
		return err
	}

	if f.failOnReview && !verdict.Verified() {
		return codeError(2, "verdict is %s", verdict.VerificationStatus)
	}
	return nil
}

func runReport(ctx context.Context, g globalFlags, f reportFlags, snapPath string) error {
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return codeError(3, "%s", err)
	}

	p, err := buildPipeline(g)
	if err != nil {
		return err
	}
	defer p.log.Sync() //nolint:errcheck

	verdict := snap.Verification
	if !snap.VerdictCurrent() {
		p.log.Info("report.audit", zap.Bool("stale", snap.Verification != nil))
		verdict, err = p.auditor.Audit(ctx, &snap.Entity, &snap.Extraction, g.apiKey)
		if err != nil {
			return p.fail("audit", err)
		}
		snap.Attach(verdict)
		if err := snap.Save(snapPath); err != nil {
			return codeError(3, "%s", err)
		}
	}

	pdf, err := p.pdf(ctx, &snap.Entity, &snap.Extraction, verdict)
	if err != nil {
		return p.fail("report", err)
	}
	if err := os.WriteFile(f.out, pdf, 0o644); err != nil {
		return codeError(3, "writing PDF: %s", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", f.out)
	return nil
}

func runDiff(oldPath, newPath string) error {
	a, err := snapshot.Load(oldPath)
	if err != nil {
		return codeError(3, "%s", err)
	}
	b, err := snapshot.Load(newPath)
	if err != nil {
		return codeError(3, "%s", err)
	}
	d := snapshot.Diff(a, b)
	if d == "" {
		fmt.Fprintln(os.Stdout, "no differences")
		return nil
	}
	fmt.Fprint(os.Stdout, d)
	return nil
}

func loadEntity(path string) (*schema.EntityProfile, error) {
	if path == "" {
		return nil, fmt.Errorf("--entity is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e schema.EntityProfile
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &e, nil
}

func writeOutput(path string, out []byte) error {
	if path != "" {
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return codeError(3, "writing output file: %s", err)
		}
		return nil
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return codeError(3, "writing output: %s", err)
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Fprintln(os.Stdout)
	}
	return nil
}

// validateFlags returns an error if any global flag value is invalid.
// parseSeverity maps a --severity value to a threshold. The summary counts
// always cover every finding.
func parseSeverity(s string) (schema.Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return schema.SeverityInfo, nil
	case "warn", "warning":
		return schema.SeverityWarn, nil
	case "critical":
		return schema.SeverityCritical, nil
	}
	return "", fmt.Errorf("invalid --severity %q: must be info, warning or critical", s)
}

func validateFlags(g globalFlags) error {
	if g.temperature < 0 || g.temperature > 2 {
		return fmt.Errorf("--temperature must be between 0.0 and 2.0, got %g", g.temperature)
	}
	if g.maxTokens <= 0 {
		return fmt.Errorf("--max-tokens must be > 0, got %d", g.maxTokens)
	}
	return nil
}
