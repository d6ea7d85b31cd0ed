package textparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/copilot/pkg/schema"
)

var (
	intRe   = regexp.MustCompile(`-?\d+`)
	floatRe = regexp.MustCompile(`[-+]?\d*\.\d+|[-+]?\d+`)
)

// HintKind classifies a format hint.
type HintKind int

const (
	HintString HintKind = iota
	HintInt
	HintFloat
	HintStructured
)

func (k HintKind) String() string {
	switch k {
	case HintInt:
		return "int"
	case HintFloat:
		return "float"
	case HintStructured:
		return "structured"
	default:
		return "string"
	}
}

// ClassifyHint decides how an answer for the given hint is parsed.
// Shape is checked before scalar type, so "{product:str, units:int}" is structured.
func ClassifyHint(hint string) HintKind {
	h := strings.ToLower(strings.TrimSpace(hint))
	switch {
	case strings.HasPrefix(h, "list"), strings.HasPrefix(h, "dict"),
		strings.HasPrefix(h, "{"), strings.HasPrefix(h, "["):
		return HintStructured
	case strings.Contains(h, "int"):
		return HintInt
	case strings.Contains(h, "float"):
		return HintFloat
	}
	return HintString
}

// FirstInt returns the first integer token in s.
func FirstInt(s string) (int, bool) {
	m := intRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FirstFloat returns the first decimal value in s, ignoring thousands separators.
func FirstFloat(s string) (float64, bool) {
	m := floatRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// TypedAnswer converts raw answer text into the type the hint asks for.
//
// int and float hints with no numeric token yield 0 and 0.0. A structured hint
// whose text is not a literal returns the cleaned string together with the
// parse error; callers that want a value regardless can ignore the error.
func TypedAnswer(raw, hint string) (any, error) {
	clean := StripFences(raw)

	switch ClassifyHint(hint) {
	case HintInt:
		n, _ := FirstInt(clean)
		return n, nil
	case HintFloat:
		f, _ := FirstFloat(clean)
		return f, nil
	case HintStructured:
		v, err := ParseLiteral(clean)
		if err != nil {
			return clean, schema.NewErrorf(schema.ErrCodeParse, "answer for hint %q: %s", hint, err.Error()).WithCause(err)
		}
		return v, nil
	}
	return clean, nil
}

// SplitCitations splits a comma separated citation string into trimmed entries.
// A bracketed list literal such as ["Orders", "kpi::chunk1"] is accepted too.
func SplitCitations(raw string) []string {
	out := []string{}
	raw = StripFences(raw)
	if strings.HasPrefix(raw, "[") {
		if v, err := ParseLiteral(raw); err == nil {
			if items, ok := v.([]any); ok {
				for _, it := range items {
					if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
						out = append(out, strings.TrimSpace(s))
					}
				}
				return out
			}
		}
	}
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
