// Package validate enforces the model output contract: it checks the top-level
// shape of a decoded response and coerces its fields into typed records.
// It never re-derives an audit verdict.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dshills/brsrcheck/internal/errs"
	"github.com/dshills/brsrcheck/internal/schema"
)

// Missing is the placeholder for absent string values.
const Missing = "-"

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"table14": map[string]any{},
		"table15": map[string]any{},
	},
}

var auditSchema = map[string]any{
	"type":     "object",
	"required": []any{"verificationStatus"},
	"properties": map[string]any{
		"verificationStatus": map[string]any{"type": "string"},
	},
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() {
	compiled = make(map[string]*jsonschema.Schema)
	for name, m := range map[string]map[string]any{
		"extraction.json": extractionSchema,
		"audit.json":      auditSchema,
	} {
		b, err := json.Marshal(m)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema %s: %w", name, err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
		s, err := compiler.Compile(name)
		if err != nil {
			compileErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		compiled[name] = s
	}
}

func checkShape(name string, v any) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return compileErr
	}
	if err := compiled[name].Validate(v); err != nil {
		return errs.Malformed("response does not match %s: %v", strings.TrimSuffix(name, ".json"), err)
	}
	return nil
}

// CleanResponse strips surrounding markdown code fences (```json ... ``` or
// ``` ... ```) and whitespace from raw model output.
func CleanResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Decode cleans raw and decodes it as a single JSON value. Numbers are kept as
// json.Number. Failures are errs.ErrMalformedResponse.
func Decode(raw string) (any, error) {
	cleaned := CleanResponse(raw)
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errs.Malformed("JSON parse failed: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errs.Malformed("JSON parse failed: trailing data after value")
	}
	return v, nil
}

// ParseExtraction validates a decoded extraction response. A non-object is
// rejected; everything below the top level is coerced: missing or mistyped
// tables become empty, non-object rows are skipped.
func ParseExtraction(v any) (*schema.ExtractionResult, error) {
	if err := checkShape("extraction.json", v); err != nil {
		return nil, err
	}
	obj := v.(map[string]any)

	res := &schema.ExtractionResult{
		Table14: []schema.ActivityRecord{},
		Table15: []schema.ProductRecord{},
	}
	for _, row := range objects(obj["table14"]) {
		res.Table14 = append(res.Table14, schema.ActivityRecord{
			MainActivity:       coerceString(row["mainActivity"]),
			Description:        coerceString(row["description"]),
			TurnoverPercentage: coercePercent(row["turnoverPercentage"]),
		})
	}
	for _, row := range objects(obj["table15"]) {
		res.Table15 = append(res.Table15, schema.ProductRecord{
			ProductService:     coerceString(row["productService"]),
			NICCode:            coerceString(row["nicCode"]),
			TurnoverPercentage: coercePercent(row["turnoverPercentage"]),
		})
	}
	return res, nil
}

// ParseAudit validates a decoded audit response. The object must carry a
// recognised verificationStatus, matched case-insensitively; UNVERIFIED is
// normalised to NEEDS_REVIEW.
// Non-string comments are dropped and a missing caNote becomes "-".
func ParseAudit(v any) (*schema.AuditVerdict, error) {
	if err := checkShape("audit.json", v); err != nil {
		return nil, err
	}
	obj := v.(map[string]any)

	raw, _ := obj["verificationStatus"].(string)
	status, ok := schema.NormalizeStatus(raw)
	if !ok {
		return nil, errs.Malformed("unknown verificationStatus %q", raw)
	}

	verdict := &schema.AuditVerdict{
		VerificationStatus: status,
		ModelStatus:        status,
		AuditorComments:    []string{},
		CANote:             Missing,
	}
	if list, ok := obj["auditorComments"].([]any); ok {
		for _, c := range list {
			if s, ok := c.(string); ok {
				verdict.AuditorComments = append(verdict.AuditorComments, s)
			}
		}
	}
	if f, ok := number(obj["riskScore"]); ok {
		verdict.ModelRiskScore = &f
		score := int(math.Round(f))
		verdict.RiskScore = &score
	}
	if s, ok := obj["caNote"].(string); ok && strings.TrimSpace(s) != "" {
		verdict.CANote = s
	}
	return verdict, nil
}

func objects(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return Missing
		}
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return Missing
}

func coercePercent(v any) float64 {
	if f, ok := number(v); ok {
		return f
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
