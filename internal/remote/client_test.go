package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/schema"
)

type recordingSleeper struct{ delays []time.Duration }

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

// scripted serves the given responses in order, repeating the last one.
type scripted struct {
	t      *testing.T
	steps  []step
	bodies []map[string]any
	paths  []string
}

type step struct {
	status int
	body   string
}

func (s *scripted) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.t.Errorf("decoding request: %v", err)
	}
	s.bodies = append(s.bodies, m)
	s.paths = append(s.paths, r.URL.Path)
	i := len(s.paths) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	w.WriteHeader(s.steps[i].status)
	_, _ = w.Write([]byte(s.steps[i].body))
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := &recordingSleeper{}
	c, err := New(Config{BaseURL: srv.URL + "/", Sleep: s.Sleep})
	require.NoError(t, err)
	return c, s
}

const extractOK = `{"table14":[{"mainActivity":"Manufacturing","description":"Solar modules","turnoverPercentage":95}],"table15":[]}`

func TestExtractDocument_RetriesThenSucceeds(t *testing.T) {
	h := &scripted{t: t, steps: []step{
		{http.StatusTooManyRequests, `{"error":"rate limited","kind":"rate_limited"}`},
		{http.StatusServiceUnavailable, `{"error":"upstream unavailable"}`},
		{http.StatusOK, extractOK},
	}}
	c, s := newTestClient(t, h)

	res, err := c.ExtractDocument(context.Background(), "report text", &schema.EntityProfile{CIN: "L12345"}, "user-key")
	require.NoError(t, err)
	require.Len(t, res.Table14, 1)
	assert.Equal(t, 95.0, res.Table14[0].TurnoverPercentage)
	assert.NotNil(t, res.Table15)

	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second}, s.delays)
	assert.Equal(t, []string{schema.PathExtract, schema.PathExtract, schema.PathExtract}, h.paths)
	assert.Equal(t, "report text", h.bodies[0]["text"])
	assert.Equal(t, "user-key", h.bodies[0]["apiKey"])
}

func TestInvoke_ExhaustsAfterFourAttempts(t *testing.T) {
	h := &scripted{t: t, steps: []step{{http.StatusInternalServerError, `{"error":"Quota exceeded for model"}`}}}
	c, s := newTestClient(t, h)

	err := c.Invoke(context.Background(), schema.PathExtract, map[string]string{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTerminalRetry)
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	var re *errs.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 4, re.Attempts)
	assert.Len(t, h.paths, 4)
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond}, s.delays)
}

func TestInvoke_TerminalStatuses(t *testing.T) {
	cases := []struct {
		name string
		st   step
		want error
	}{
		{"missing credential", step{http.StatusUnauthorized, `{"error":"API Key missing"}`}, errs.ErrMissingCredential},
		{"malformed", step{http.StatusBadGateway, `{"error":"malformed model response: not JSON","kind":"malformed_response"}`}, errs.ErrMalformedResponse},
		{"bad request", step{http.StatusBadRequest, `{"error":"text is required"}`}, errs.ErrUpstream},
		{"not verified", step{http.StatusConflict, `{"error":"audit verdict is not VERIFIED","kind":"not_verified"}`}, errs.ErrNotVerified},
		{"plain 500", step{http.StatusInternalServerError, `boom`}, errs.ErrUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &scripted{t: t, steps: []step{tc.st}}
			c, s := newTestClient(t, h)
			err := c.Invoke(context.Background(), schema.PathAudit, map[string]string{}, nil)
			assert.ErrorIs(t, err, tc.want)
			assert.NotErrorIs(t, err, errs.ErrTerminalRetry)
			assert.Len(t, h.paths, 1)
			assert.Empty(t, s.delays)
		})
	}
}

func TestInvoke_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := &recordingSleeper{}
	c, err := New(Config{BaseURL: url, Sleep: s.Sleep})
	require.NoError(t, err)

	err = c.Invoke(context.Background(), schema.PathExtract, map[string]string{}, nil)
	assert.ErrorIs(t, err, errs.ErrTransientNetwork)
	assert.ErrorIs(t, err, errs.ErrTerminalRetry)
	assert.Len(t, s.delays, 3)
}

func TestAudit_DecodesVerdict(t *testing.T) {
	h := &scripted{t: t, steps: []step{{http.StatusOK,
		`{"verificationStatus":"NEEDS_REVIEW","auditorComments":["[CRITICAL] Registered office is missing"],"riskScore":80,"caNote":"Qualified."}`}}}
	c, _ := newTestClient(t, h)

	v, err := c.Audit(context.Background(), &schema.EntityProfile{EntityName: "Acme"}, &schema.ExtractionResult{}, "")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusNeedsReview, v.VerificationStatus)
	require.NotNil(t, v.RiskScore)
	assert.Equal(t, 80, *v.RiskScore)
	assert.Equal(t, schema.PathAudit, h.paths[0])
	assert.NotContains(t, h.bodies[0], "userApiKey")
	assert.Contains(t, h.bodies[0], "formData")
}

func TestAudit_UnknownStatusIsMalformed(t *testing.T) {
	h := &scripted{t: t, steps: []step{{http.StatusOK, `{"verificationStatus":"APPROVED"}`}}}
	c, _ := newTestClient(t, h)
	_, err := c.Audit(context.Background(), &schema.EntityProfile{}, nil, "")
	assert.ErrorIs(t, err, errs.ErrMalformedResponse)
}

func TestRenderPDF_ReturnsRawBody(t *testing.T) {
	h := &scripted{t: t, steps: []step{{http.StatusOK, "%PDF-1.3 fake"}}}
	c, _ := newTestClient(t, h)
	b, err := c.RenderPDF(context.Background(), &schema.EntityProfile{}, &schema.ExtractionResult{}, &schema.AuditVerdict{VerificationStatus: schema.StatusVerified})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3 fake", string(b))
	assert.Equal(t, schema.PathGeneratePDF, h.paths[0])
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://localhost:5000", Retry: DefaultRetryPolicy})
	assert.NoError(t, err)
}
