// Package eval scores an answers file against gold answers.
package eval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"

	"github.com/rendis/copilot/internal/expressions"
	"github.com/rendis/copilot/internal/textparse"
	"github.com/rendis/copilot/internal/validation"
	"github.com/rendis/copilot/pkg/schema"
)

// DefaultTolerance is the relative tolerance for numeric comparisons.
const DefaultTolerance = 0.01

// Gold is one expected answer. Extract is an optional jq expression applied
// to final_answer before comparison; Tolerance overrides DefaultTolerance.
type Gold struct {
	ID        string   `json:"id"`
	Expected  any      `json:"expected"`
	Extract   string   `json:"extract,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
}

// Outcome is the verdict for one gold record.
type Outcome struct {
	ID       string `json:"id"`
	Expected any    `json:"expected"`
	Got      any    `json:"got"`
	Match    bool   `json:"match"`
	Reason   string `json:"reason,omitempty"`
}

// Report aggregates outcomes in gold id order.
type Report struct {
	Total    int       `json:"total"`
	Correct  int       `json:"correct"`
	Missing  int       `json:"missing"`
	Accuracy float64   `json:"accuracy"`
	Outcomes []Outcome `json:"outcomes"`
}

// ReadGold parses a gold JSONL stream. Invalid lines are skipped and reported
// together in the returned error.
func ReadGold(r io.Reader, v *validation.RecordValidator) ([]Gold, error) {
	var (
		out  []Gold
		errs *multierror.Error
	)
	err := scanLines(r, func(line int, raw []byte) {
		if err := v.ValidateGold(raw).AtLine(line).ToError(); err != nil {
			errs = multierror.Append(errs, err)
			return
		}
		var g Gold
		if err := json.Unmarshal(raw, &g); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", line, err))
			return
		}
		out = append(out, g)
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	return out, errs.ErrorOrNil()
}

// ReadAnswers parses an answers JSONL stream keyed by id. A later line for the
// same id wins.
func ReadAnswers(r io.Reader) (map[string]schema.Answer, error) {
	out := make(map[string]schema.Answer)
	var errs *multierror.Error
	err := scanLines(r, func(line int, raw []byte) {
		var a schema.Answer
		if err := json.Unmarshal(raw, &a); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", line, err))
			return
		}
		out[a.ID] = a
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	return out, errs.ErrorOrNil()
}

func scanLines(r io.Reader, fn func(line int, raw []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		fn(line, raw)
	}
	return sc.Err()
}

// Evaluator compares answers with gold records.
type Evaluator struct {
	jq *expressions.GoJQEngine
}

// NewEvaluator creates an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{jq: expressions.NewGoJQEngine()}
}

// Evaluate scores every gold record. Answers without a gold record are ignored.
func (e *Evaluator) Evaluate(ctx context.Context, gold []Gold, answers map[string]schema.Answer) Report {
	rep := Report{Outcomes: make([]Outcome, 0, len(gold))}
	for _, g := range gold {
		ans, ok := answers[g.ID]
		if !ok {
			rep.Missing++
			rep.Outcomes = append(rep.Outcomes, Outcome{ID: g.ID, Expected: g.Expected, Reason: "missing answer"})
			continue
		}
		o := e.Compare(ctx, g, ans)
		if o.Match {
			rep.Correct++
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	sort.SliceStable(rep.Outcomes, func(i, j int) bool { return rep.Outcomes[i].ID < rep.Outcomes[j].ID })
	rep.Total = len(gold)
	if rep.Total > 0 {
		rep.Accuracy = float64(rep.Correct) / float64(rep.Total)
	}
	return rep
}

// Compare scores one answer against its gold record.
func (e *Evaluator) Compare(ctx context.Context, g Gold, ans schema.Answer) Outcome {
	o := Outcome{ID: g.ID, Expected: g.Expected, Got: ans.FinalAnswer}
	if g.Extract != "" {
		v, err := e.jq.Evaluate(ctx, g.Extract, ans.FinalAnswer)
		if err != nil {
			o.Reason = "extract: " + err.Error()
			return o
		}
		o.Got = v
	}

	tol := DefaultTolerance
	if g.Tolerance != nil {
		tol = *g.Tolerance
	}
	o.Match = Equal(g.Expected, o.Got, tol)
	if !o.Match {
		o.Reason = "mismatch"
	}
	return o
}

// Equal compares an expected and an actual value. Numbers match within the
// relative tolerance, and a numeric expectation also accepts a string holding
// that number. Strings compare case-insensitively after trimming. Lists and
// objects compare element-wise.
func Equal(expected, got any, tol float64) bool {
	if ef, ok := number(expected); ok {
		gf, ok := number(got)
		if !ok {
			if s, isStr := got.(string); isStr {
				gf, ok = textparse.FirstFloat(s)
			}
		}
		return ok && isClose(ef, gf, tol)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := got.(string)
		return ok && strings.EqualFold(strings.TrimSpace(exp), strings.TrimSpace(s))
	case []any:
		list, ok := got.([]any)
		if !ok || len(list) != len(exp) {
			return false
		}
		for i := range exp {
			if !Equal(exp[i], list[i], tol) {
				return false
			}
		}
		return true
	case map[string]any:
		obj, ok := got.(map[string]any)
		if !ok || len(obj) != len(exp) {
			return false
		}
		for k, v := range exp {
			gv, ok := obj[k]
			if !ok || !Equal(v, gv, tol) {
				return false
			}
		}
		return true
	}
	return cmp.Equal(expected, got)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// isClose mirrors a relative-tolerance comparison with no absolute floor.
func isClose(a, b, rel float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= rel*math.Max(math.Abs(a), math.Abs(b))
}
