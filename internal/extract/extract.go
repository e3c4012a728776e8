// Package extract pulls Table 14 and Table 15 rows out of annual-report text,
// one model call per document, and accumulates them across a batch.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/config"
	"github.com/dshills/brsrcheck/internal/document"
	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/llm"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/metrics"
	"github.com/dshills/brsrcheck/internal/retry"
	"github.com/dshills/brsrcheck/internal/schema"
	"github.com/dshills/brsrcheck/internal/schema/validate"
)

// Generator is the model call extraction needs; *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt, credential string) (any, error)
}

// DocumentExtractor extracts both tables from one document's text.
// ModelExtractor and remote.Client implement it.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, text string, entity *schema.EntityProfile, credential string) (*schema.ExtractionResult, error)
}

// ModelExtractor extracts by prompting a model directly.
type ModelExtractor struct {
	gen      Generator
	maxChars int
	log      *zap.Logger
}

// NewModelExtractor returns a ModelExtractor. maxChars <= 0 selects
// config.DefaultMaxChars.
func NewModelExtractor(gen Generator, maxChars int, log *zap.Logger) *ModelExtractor {
	if maxChars <= 0 {
		maxChars = config.DefaultMaxChars
	}
	return &ModelExtractor{gen: gen, maxChars: maxChars, log: logging.OrNop(log)}
}

// ExtractDocument truncates text, prompts the model once (the generator owns
// retries) and validates the response.
func (m *ModelExtractor) ExtractDocument(ctx context.Context, text string, entity *schema.EntityProfile, credential string) (*schema.ExtractionResult, error) {
	body, truncated := document.Truncate(text, m.maxChars)
	if truncated {
		m.log.Info("extract.document.truncated", zap.Int("max_chars", m.maxChars))
	}
	v, err := m.gen.Generate(ctx, llm.BuildExtractionPrompt(body, entity, truncated), credential)
	if err != nil {
		return nil, err
	}
	return validate.ParseExtraction(v)
}

// Config configures an Orchestrator.
type Config struct {
	// Pacing is the fixed wait between consecutive documents.
	Pacing time.Duration
	// Sleep defaults to retry.ContextSleep.
	Sleep  retry.Sleeper
	Logger *zap.Logger
}

// Orchestrator runs a DocumentExtractor over a batch of documents.
type Orchestrator struct {
	ex  DocumentExtractor
	cfg Config
	log *zap.Logger
}

// NewOrchestrator returns an Orchestrator over ex.
func NewOrchestrator(ex DocumentExtractor, cfg Config) *Orchestrator {
	if cfg.Sleep == nil {
		cfg.Sleep = retry.ContextSleep
	}
	return &Orchestrator{ex: ex, cfg: cfg, log: logging.OrNop(cfg.Logger)}
}

// Extract processes docs strictly in order, waiting Pacing between documents
// (never after the last), and concatenates their rows. Any failure aborts
// the batch and no partial result is returned.
func (o *Orchestrator) Extract(ctx context.Context, docs []document.Document, entity *schema.EntityProfile, credential string) (*schema.ExtractionResult, error) {
	batchID := uuid.NewString()
	log := o.log.With(zap.String("batch_id", batchID), zap.Int("documents", len(docs)))
	log.Info("extract.batch.start")

	acc := &schema.ExtractionResult{}
	for i, doc := range docs {
		if i > 0 && o.cfg.Pacing > 0 {
			metrics.RecordPacing(o.cfg.Pacing)
			if err := o.cfg.Sleep(ctx, o.cfg.Pacing); err != nil {
				return nil, fmt.Errorf("extract: pacing before %s: %w", doc.Name, err)
			}
		}

		start := time.Now()
		res, err := o.ex.ExtractDocument(ctx, doc.Text, entity, credential)
		if err != nil {
			log.Error("extract.document.failed",
				zap.Int("index", i),
				zap.String("document", doc.Name),
				zap.String("kind", errs.Kind(err)),
				zap.Error(err))
			return nil, fmt.Errorf("extract: document %d (%s): %w", i+1, doc.Name, err)
		}
		log.Info("extract.document.ok",
			zap.Int("index", i),
			zap.String("document", doc.Name),
			zap.Int("table14", len(res.Table14)),
			zap.Int("table15", len(res.Table15)),
			zap.Duration("elapsed", time.Since(start)))
		acc.Append(res)
	}

	acc.Normalize()
	metrics.RecordRows(len(acc.Table14), len(acc.Table15))
	log.Info("extract.batch.done", zap.Int("table14", len(acc.Table14)), zap.Int("table15", len(acc.Table15)))
	return acc, nil
}
