// Package remote calls a separately deployed brsrd service over HTTP. Every
// call runs under the call-site retry policy, independent of the retries the
// service performs against the model.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/metrics"
	"github.com/dshills/brsrcheck/internal/redact"
	"github.com/dshills/brsrcheck/internal/retry"
	"github.com/dshills/brsrcheck/internal/schema"
)

// SiteRemote labels remote calls in errors, logs and metrics.
const SiteRemote = "remote"

const maxResponseBytes = 32 << 20

// DefaultRetryPolicy is four attempts starting at 10s, growing x1.5.
var DefaultRetryPolicy = retry.Policy{Attempts: 4, BaseDelay: 10 * time.Second, Multiplier: 1.5}

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brsrd: HTTP %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Retry   retry.Policy
	// Sleep defaults to retry.ContextSleep.
	Sleep      retry.Sleeper
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is the call-site retry wrapper around the brsrd endpoints.
type Client struct {
	base string
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New returns a Client for the service at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:  cfg,
		http: hc,
		log:  logging.OrNop(cfg.Logger),
	}, nil
}

// Invoke POSTs payload as JSON to endpoint and decodes the JSON response
// into out (which may be nil).
func (c *Client) Invoke(ctx context.Context, endpoint string, payload, out any) error {
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: %w", SiteRemote, endpoint, errs.Malformed("decoding response: %v", err))
	}
	return nil
}

// post sends one logical call under the retry policy and returns the raw
// response body of the successful attempt.
func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encoding request: %w", SiteRemote, endpoint, err)
	}

	log := c.log.With(zap.String("req_id", uuid.NewString()), zap.String("site", SiteRemote), zap.String("endpoint", endpoint))
	r := &retry.Retrier{
		Site:      SiteRemote + " " + endpoint,
		Policy:    c.cfg.Retry,
		Sleep:     c.cfg.Sleep,
		Retryable: isRetryable,
		OnRetry: func(st retry.State, err error) {
			metrics.RecordRetry(SiteRemote, reason(err), st.Delay)
			log.Warn("remote.call.retry",
				zap.Int("attempt", st.Attempt),
				zap.Int("max_attempts", st.MaxAttempts),
				zap.Duration("delay", st.Delay),
				zap.String("error", redact.Redact(err.Error())))
		},
	}

	start := time.Now()
	var out []byte
	err = r.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := c.once(ctx, endpoint, data)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	metrics.RecordCall(SiteRemote, errs.Kind(err), time.Since(start))
	if err != nil {
		log.Error("remote.call.failed", zap.String("kind", errs.Kind(err)), zap.String("error", redact.Redact(err.Error())))
		return nil, err
	}
	log.Debug("remote.call.ok", zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *Client) once(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", SiteRemote, endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", SiteRemote, endpoint, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", errs.ErrTransientNetwork, err)
	}
	if resp.StatusCode/100 == 2 {
		return body, nil
	}
	return nil, classifyStatus(statusError(resp.StatusCode, body))
}

func statusError(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code}
	var er schema.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		se.Message, se.Kind = er.Error, er.Kind
		return se
	}
	se.Message = strings.TrimSpace(string(body))
	if se.Message == "" {
		se.Message = http.StatusText(code)
	}
	return se
}

// classifyStatus maps a failed response onto the errs taxonomy. Rate limits,
// gateway failures and bodies mentioning quota or network trouble are
// retryable; everything else is terminal.
func classifyStatus(se *StatusError) error {
	msg := strings.ToLower(se.Message)
	switch {
	case se.Kind == "missing_credential" ||
		se.StatusCode == http.StatusUnauthorized && strings.Contains(msg, strings.ToLower(errs.ErrMissingCredential.Error())):
		return errs.ErrMissingCredential
	case se.Kind == "not_verified" || se.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", errs.ErrNotVerified, se)
	case se.StatusCode == http.StatusTooManyRequests || strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %w", errs.ErrRateLimited, se)
	case se.StatusCode == http.StatusServiceUnavailable || se.StatusCode == http.StatusGatewayTimeout ||
		strings.Contains(msg, "fetch failed") || strings.Contains(msg, "network"):
		return fmt.Errorf("%w: %w", errs.ErrTransientNetwork, se)
	case se.Kind == "malformed_response":
		return fmt.Errorf("%w: %w", errs.ErrMalformedResponse, se)
	default:
		return fmt.Errorf("%w: %w", errs.ErrUpstream, se)
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, errs.ErrRateLimited) || errors.Is(err, errs.ErrTransientNetwork)
}

func reason(err error) string {
	if errors.Is(err, errs.ErrRateLimited) {
		return "rate_limited"
	}
	return "network"
}

// ExtractDocument extracts both tables from one document's text through
// the service.
func (c *Client) ExtractDocument(ctx context.Context, text string, entity *schema.EntityProfile, credential string) (*schema.ExtractionResult, error) {
	var res schema.ExtractionResult
	req := schema.ExtractRequest{Text: text, APIKey: credential, Entity: entity}
	if err := c.Invoke(ctx, schema.PathExtract, req, &res); err != nil {
		return nil, err
	}
	res.Normalize()
	return &res, nil
}

// Audit runs the audit through the service. The returned verdict is the
// service's reconciled verdict.
func (c *Client) Audit(ctx context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, credential string) (*schema.AuditVerdict, error) {
	var v schema.AuditVerdict
	req := schema.AuditRequest{FormData: entity, ExtractedData: ext, UserAPIKey: credential}
	if err := c.Invoke(ctx, schema.PathAudit, req, &v); err != nil {
		return nil, err
	}
	st, ok := schema.NormalizeStatus(string(v.VerificationStatus))
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", SiteRemote, schema.PathAudit,
			errs.Malformed("unknown verificationStatus %q", v.VerificationStatus))
	}
	v.VerificationStatus = st
	return &v, nil
}

// RenderPDF asks the service for the Section A PDF. The service refuses
// unless verdict passes the publish gate.
func (c *Client) RenderPDF(ctx context.Context, entity *schema.EntityProfile, ext *schema.ExtractionResult, verdict *schema.AuditVerdict) ([]byte, error) {
	req := schema.PDFRequest{FormData: entity, ExtractedData: ext, Verification: verdict}
	return c.post(ctx, schema.PathGeneratePDF, req)
}
