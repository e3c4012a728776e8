// Package server exposes extraction, audit and PDF rendering over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/audit"
	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/extract"
	"github.com/dshills/brsrcheck/internal/gate"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/metrics"
	"github.com/dshills/brsrcheck/internal/redact"
	"github.com/dshills/brsrcheck/internal/render"
	"github.com/dshills/brsrcheck/internal/schema"
)

const maxBodyBytes = 16 << 20

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	extractor extract.DocumentExtractor
	auditor   audit.Auditor
	log       *zap.Logger
}

// New returns a Server.
func New(ex extract.DocumentExtractor, au audit.Auditor, log *zap.Logger) *Server {
	return &Server{extractor: ex, auditor: au, log: logging.OrNop(log)}
}

// Routes returns the service router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post(schema.PathExtract, s.extractData)
	r.Post(schema.PathAudit, s.auditAndVerify)
	r.Post(schema.PathGeneratePDF, s.generatePDF)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) extractData(w http.ResponseWriter, r *http.Request) {
	var req schema.ExtractRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.fail(w, r, badRequest("text is required"))
		return
	}
	res, err := s.extractor.ExtractDocument(r.Context(), req.Text, req.Entity, req.APIKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res.Normalize()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) auditAndVerify(w http.ResponseWriter, r *http.Request) {
	var req schema.AuditRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.FormData == nil {
		s.fail(w, r, badRequest("formData is required"))
		return
	}
	if req.ExtractedData == nil {
		req.ExtractedData = &schema.ExtractionResult{}
	}
	req.ExtractedData.Normalize()
	v, err := s.auditor.Audit(r.Context(), req.FormData, req.ExtractedData, req.UserAPIKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) generatePDF(w http.ResponseWriter, r *http.Request) {
	var req schema.PDFRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.FormData == nil {
		s.fail(w, r, badRequest("formData is required"))
		return
	}
	if err := gate.Check(req.Verification); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := render.SectionA(req.FormData, req.ExtractedData)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", render.PDFFileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, badRequest("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	msg := redact.Redact(err.Error())
	if errors.Is(err, errs.ErrMissingCredential) {
		msg = errs.ErrMissingCredential.Error()
	}
	log := s.log.With(zap.String("req_id", middleware.GetReqID(r.Context())), zap.String("path", r.URL.Path))
	if code >= 500 {
		log.Error("http.request.failed", zap.Int("status", code), zap.String("kind", errs.Kind(err)), zap.String("error", msg))
	} else {
		log.Warn("http.request.rejected", zap.Int("status", code), zap.String("kind", errs.Kind(err)), zap.String("error", msg))
	}
	kind := errs.Kind(err)
	var br *badRequestError
	if errors.As(err, &br) {
		kind = "bad_request"
	}
	writeJSON(w, code, schema.ErrorResponse{Error: msg, Kind: kind})
}

// StatusFor maps an error onto the HTTP status the service responds with.
func StatusFor(err error) int {
	var br *badRequestError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotVerified):
		return http.StatusConflict
	case errors.Is(err, errs.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrTransientNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// observe logs each request and counts it by route pattern and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Info("http.request",
			zap.String("req_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
