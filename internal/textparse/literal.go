package textparse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/rendis/copilot/pkg/schema"
)

// ParseLiteral parses a literal data structure written in a permissive,
// Python-like syntax: single or double quoted strings, numbers, lists, dicts,
// True/False/None as well as true/false/null/nil. Tuples such as
// ('Chai', 10) become lists.
//
// The text is parsed with the expr-lang grammar and the resulting AST is walked
// directly. Only literal nodes are accepted; identifiers other than the
// boolean/null spellings, operators, calls and member access are rejected, so
// nothing is ever evaluated.
func ParseLiteral(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, schema.NewError(schema.ErrCodeParse, "empty literal")
	}
	tree, err := parser.Parse(tuplesToLists(s))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "literal syntax: %s", err.Error()).WithCause(err)
	}
	return literalValue(tree.Node)
}

// tuplesToLists rewrites each parenthesised group holding a top-level comma,
// and the empty (), as a bracketed list. A trailing comma inside a tuple is
// dropped. Text inside quotes and call parentheses such as f(a, b) are kept.
func tuplesToLists(s string) string {
	type open struct {
		pos, lastComma int
		tuple, paren   bool
	}
	b := []byte(s)
	var stack []open
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			stack = append(stack, open{pos: i, lastComma: -1, paren: !followsName(b, i)})
		case '[', '{':
			stack = append(stack, open{pos: i, lastComma: -1})
		case ',':
			if n := len(stack); n > 0 {
				stack[n-1].tuple = true
				stack[n-1].lastComma = i
			}
		case ')', ']', '}':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if c != ')' || !top.paren {
				continue
			}
			empty := strings.TrimSpace(string(b[top.pos+1:i])) == ""
			if !top.tuple && !empty {
				continue
			}
			b[top.pos], b[i] = '[', ']'
			if top.lastComma >= 0 && strings.TrimSpace(string(b[top.lastComma+1:i])) == "" {
				b[top.lastComma] = ' '
			}
		}
	}
	return string(b)
}

// followsName reports whether the byte before i, skipping spaces, ends an
// identifier, which makes the parenthesis at i a call.
func followsName(b []byte, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch c := b[j]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			continue
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
			return true
		default:
			return false
		}
	}
	return false
}

func literalValue(node ast.Node) (any, error) {
	switch n := node.(type) {
	case *ast.NilNode:
		return nil, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.IntegerNode:
		return n.Value, nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.ConstantNode:
		return n.Value, nil
	case *ast.IdentifierNode:
		switch n.Value {
		case "True", "true":
			return true, nil
		case "False", "false":
			return false, nil
		case "None", "null", "nil":
			return nil, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeParse, "identifier %q is not a literal", n.Value)
	case *ast.UnaryNode:
		return signedLiteral(n)
	case *ast.ArrayNode:
		out := make([]any, 0, len(n.Nodes))
		for _, item := range n.Nodes {
			v, err := literalValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *ast.MapNode:
		out := make(map[string]any, len(n.Pairs))
		for _, p := range n.Pairs {
			pair, ok := p.(*ast.PairNode)
			if !ok {
				return nil, schema.NewError(schema.ErrCodeParse, "malformed map entry")
			}
			key, err := literalKey(pair.Key)
			if err != nil {
				return nil, err
			}
			v, err := literalValue(pair.Value)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeParse, "unsupported expression %T in literal", node)
}

func signedLiteral(n *ast.UnaryNode) (any, error) {
	v, err := literalValue(n.Node)
	if err != nil {
		return nil, err
	}
	neg := false
	switch n.Operator {
	case "-":
		neg = true
	case "+":
	default:
		return nil, schema.NewErrorf(schema.ErrCodeParse, "operator %q in literal", n.Operator)
	}
	switch x := v.(type) {
	case int:
		if neg {
			return -x, nil
		}
		return x, nil
	case float64:
		if neg {
			return -x, nil
		}
		return x, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeParse, "sign applied to %T", v)
}

func literalKey(node ast.Node) (string, error) {
	switch k := node.(type) {
	case *ast.StringNode:
		return k.Value, nil
	case *ast.IdentifierNode:
		return k.Value, nil
	case *ast.IntegerNode:
		return fmt.Sprint(k.Value), nil
	case *ast.FloatNode:
		return fmt.Sprint(k.Value), nil
	}
	return "", schema.NewErrorf(schema.ErrCodeParse, "unsupported map key %T", node)
}

// ParseObject parses a JSON object, falling back to the permissive literal
// syntax when strict JSON fails. Markdown fences are stripped first.
func ParseObject(raw string) (map[string]any, error) {
	cleaned := StripFences(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && obj != nil {
		return obj, nil
	}

	v, err := ParseLiteral(cleaned)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "expected object, got %T", v)
	}
	return m, nil
}
