// Package audit turns an entity profile and extracted tables into a gating
// verdict. The model's verdict is advisory: the status is re-derived from the
// deterministic checks plus the model's own tagged findings.
package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/llm"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/metrics"
	"github.com/dshills/brsrcheck/internal/rules"
	"github.com/dshills/brsrcheck/internal/schema"
	"github.com/dshills/brsrcheck/internal/schema/validate"
)

// Generator is the model call the engine needs; *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt, credential string) (any, error)
}

// Auditor produces a verdict for an entity and its tables. Both the local
// Engine and the remote client implement it.
type Auditor interface {
	Audit(ctx context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, credential string) (*schema.AuditVerdict, error)
}

// Engine audits through a model and reconciles the result locally.
type Engine struct {
	gen   Generator
	rules *rules.RuleSet
	log   *zap.Logger
}

// NewEngine returns an Engine using rs (rules.Default() when nil).
func NewEngine(gen Generator, rs *rules.RuleSet, log *zap.Logger) *Engine {
	if rs == nil {
		rs = rules.Default()
	}
	return &Engine{gen: gen, rules: rs, log: logging.OrNop(log)}
}

// Audit builds the audit prompt, calls the model once (the client owns any
// retries), validates the response and reconciles it against the local
// checks.
func (e *Engine) Audit(ctx context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, credential string) (*schema.AuditVerdict, error) {
	if entity == nil {
		return nil, fmt.Errorf("audit: entity profile is required")
	}
	if ext == nil {
		ext = &schema.ExtractionResult{}
	}

	prompt := llm.BuildAuditPrompt(entity, ext, e.rules)
	v, err := e.gen.Generate(ctx, prompt, credential)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	modelVerdict, err := validate.ParseAudit(v)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	verdict, held := reconcile(modelVerdict, Check(entity, ext))
	if held {
		e.log.Warn("audit.verdict.held",
			zap.String("model_status", string(verdict.ModelStatus)),
			zap.Int("model_comments", len(modelVerdict.AuditorComments)))
	}
	e.record(verdict)
	return verdict, nil
}

// Reconcile combines the model verdict with local findings. The derived
// status is VERIFIED iff no local finding and no model comment is CRITICAL,
// except that a model NEEDS_REVIEW is only upgraded when every model comment
// states a non-critical severity. auditorComments are rebuilt from all
// findings ordered by severity. The model's own status, score and CA note are
// preserved.
func Reconcile(model *schema.AuditVerdict, local []schema.Finding) *schema.AuditVerdict {
	v, _ := reconcile(model, local)
	return v
}

// reconcile also reports whether the model's NEEDS_REVIEW was kept because
// its comments did not state why.
func reconcile(model *schema.AuditVerdict, local []schema.Finding) (*schema.AuditVerdict, bool) {
	if model == nil {
		model = &schema.AuditVerdict{VerificationStatus: schema.StatusNeedsReview, CANote: validate.Missing}
	}
	all := make([]schema.Finding, 0, len(local)+len(model.AuditorComments))
	all = append(all, local...)
	allStated := true
	nModel := 0
	for _, c := range model.AuditorComments {
		if strings.TrimSpace(c) == "" {
			continue
		}
		f, stated := parseComment(c)
		all = append(all, f)
		allStated = allStated && stated
		nModel++
	}
	all = SortFindings(all)

	comments := make([]string, 0, len(all))
	for _, f := range all {
		comments = append(comments, f.Comment())
	}
	score := Score(all)

	modelStatus := model.ModelStatus
	if modelStatus == "" {
		modelStatus = model.VerificationStatus
	}
	if st, ok := schema.NormalizeStatus(string(modelStatus)); ok {
		modelStatus = st
	}

	status := Status(all)
	held := false
	if status == schema.StatusVerified && modelStatus == schema.StatusNeedsReview && (nModel == 0 || !allStated) {
		status = schema.StatusNeedsReview
		held = true
	}
	return &schema.AuditVerdict{
		VerificationStatus: status,
		AuditorComments:    comments,
		RiskScore:          &score,
		CANote:             model.CANote,
		Findings:           all,
		ModelStatus:        modelStatus,
		ModelRiskScore:     model.ModelRiskScore,
	}, held
}

// ModelAgrees reports whether the model's own status matched the derived one.
func ModelAgrees(v *schema.AuditVerdict) bool {
	return v.ModelStatus == "" || v.ModelStatus == v.VerificationStatus
}

func (e *Engine) record(v *schema.AuditVerdict) {
	agrees := ModelAgrees(v)
	metrics.Verdicts.WithLabelValues(string(v.VerificationStatus), strconv.FormatBool(agrees)).Inc()
	for _, f := range v.Findings {
		metrics.Findings.WithLabelValues(string(f.Severity), string(f.Source)).Inc()
	}
	crit, warn, info := Counts(v.Findings)
	fields := []zap.Field{
		zap.String("status", string(v.VerificationStatus)),
		zap.String("model_status", string(v.ModelStatus)),
		zap.Int("critical", crit),
		zap.Int("warning", warn),
		zap.Int("info", info),
	}
	if !agrees {
		e.log.Warn("audit.verdict.overridden", fields...)
		return
	}
	e.log.Info("audit.verdict", fields...)
}

// Summarize builds the report summary for a reconciled verdict.
func Summarize(v *schema.AuditVerdict) schema.Summary {
	crit, warn, info := Counts(v.Findings)
	s := schema.Summary{
		Status:        v.VerificationStatus,
		CriticalCount: crit,
		WarnCount:     warn,
		InfoCount:     info,
		ModelAgrees:   ModelAgrees(v),
	}
	if v.RiskScore != nil {
		s.RiskScore = *v.RiskScore
	} else {
		s.RiskScore = Score(v.Findings)
	}
	return s
}
