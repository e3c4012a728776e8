package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/metrics"
	"github.com/dshills/brsrcheck/internal/redact"
	"github.com/dshills/brsrcheck/internal/retry"
	"github.com/dshills/brsrcheck/internal/schema/validate"
)

// SiteModel labels model calls in errors, logs and metrics.
const SiteModel = "model"

// Config configures a Client.
type Config struct {
	// DefaultAPIKey is used when a call supplies no credential.
	DefaultAPIKey string
	Retry         retry.Policy
	// Sleep defaults to retry.ContextSleep.
	Sleep       retry.Sleeper
	Temperature float64
	MaxTokens   int
	// Timeout bounds each attempt; an attempt that times out is retried.
	Timeout time.Duration
	Logger  *zap.Logger
	// Debug logs redacted prompts and raw responses.
	Debug bool
}

// DefaultRetryPolicy is five attempts starting at 10s and doubling.
var DefaultRetryPolicy = retry.Policy{Attempts: 5, BaseDelay: 10 * time.Second, Multiplier: 2}

// Client sends one prompt per logical call to a Provider, retrying rate
// limits and network failures, and returns the decoded JSON value.
type Client struct {
	provider Provider
	cfg      Config
	log      *zap.Logger
}

// NewClient returns a Client over p.
func NewClient(p Provider, cfg Config) *Client {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Client{provider: p, cfg: cfg, log: logging.OrNop(cfg.Logger)}
}

// ResolveCredential picks the per-request credential when present, else the
// configured default. Neither yields errs.ErrMissingCredential.
func ResolveCredential(override, fallback string) (string, error) {
	if k := strings.TrimSpace(override); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(fallback); k != "" {
		return k, nil
	}
	return "", errs.ErrMissingCredential
}

// Generate sends prompt with JSON output requested and returns the decoded
// value. Output that fails to parse is errs.ErrMalformedResponse and is not
// retried. A missing credential fails before any provider call.
func (c *Client) Generate(ctx context.Context, prompt, credential string) (any, error) {
	key, err := ResolveCredential(credential, c.cfg.DefaultAPIKey)
	if err != nil {
		return nil, err
	}

	reqID := uuid.NewString()
	log := c.log.With(zap.String("req_id", reqID), zap.String("site", SiteModel), zap.String("key", redact.Key(key)))
	if c.cfg.Debug {
		log.Debug("llm.generate.prompt", zap.String("prompt", redact.Redact(prompt)))
	}

	req := &Request{
		UserPrompt:  prompt,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		APIKey:      key,
		JSON:        true,
	}

	r := &retry.Retrier{
		Site:      SiteModel,
		Policy:    c.cfg.Retry,
		Sleep:     c.cfg.Sleep,
		Retryable: IsRetryable,
		OnRetry: func(st retry.State, err error) {
			metrics.RecordRetry(SiteModel, Reason(err), st.Delay)
			log.Warn("llm.generate.retry",
				zap.Int("attempt", st.Attempt),
				zap.Int("max_attempts", st.MaxAttempts),
				zap.Duration("delay", st.Delay),
				zap.String("error", redact.Redact(err.Error())))
		},
	}

	start := time.Now()
	var resp *Response
	err = r.Do(ctx, func(ctx context.Context, attempt int) error {
		actx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
		out, cerr := c.provider.Complete(actx, req)
		if cerr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("model call: %w", ctx.Err())
			}
			return Classify(cerr)
		}
		resp = out
		return nil
	})
	if err != nil {
		metrics.RecordCall(SiteModel, errs.Kind(err), time.Since(start))
		log.Error("llm.generate.failed", zap.String("kind", errs.Kind(err)), zap.String("error", redact.Redact(err.Error())))
		return nil, err
	}

	if c.cfg.Debug {
		log.Debug("llm.generate.response", zap.String("model", resp.Model), zap.String("content", redact.Redact(resp.Content)))
	}
	v, err := validate.Decode(resp.Content)
	if err != nil {
		metrics.RecordCall(SiteModel, errs.Kind(err), time.Since(start))
		log.Error("llm.generate.malformed", zap.String("model", resp.Model), zap.Error(err))
		return nil, err
	}
	metrics.RecordCall(SiteModel, "ok", time.Since(start))
	log.Info("llm.generate.ok", zap.String("model", resp.Model), zap.Duration("elapsed", time.Since(start)))
	return v, nil
}
