package filter

import (
	"strings"
	"time"

	"github.com/openidx/scim-engine/internal/scim"
)

// ============================================================
// Filter evaluation over attribute trees
// ============================================================

// Engine evaluates parsed expressions against decoded resource attributes.
// It holds no state and is safe for concurrent use.
type Engine struct{}

// NewEngine creates a filter engine
func NewEngine() *Engine {
	return &Engine{}
}

// Parse parses a filter string
func (e *Engine) Parse(filter string) (*Expression, error) {
	return Parse(filter)
}

// Matches reports whether attrs satisfies expr. A nil expression matches
// every resource.
func (e *Engine) Matches(expr *Expression, attrs map[string]any) bool {
	if expr == nil {
		return true
	}
	return evaluate(expr, attrs)
}

func evaluate(expr *Expression, attrs map[string]any) bool {
	switch expr.Operator {
	case OpAnd:
		return evaluate(expr.Left, attrs) && evaluate(expr.Right, attrs)
	case OpOr:
		return evaluate(expr.Left, attrs) || evaluate(expr.Right, attrs)
	case OpNot:
		return !evaluate(expr.Not, attrs)
	case OpValuePath:
		for _, elem := range elements(attrs, expr.Field) {
			if m, ok := elem.(map[string]any); ok && evaluate(expr.Filter, m) {
				return true
			}
		}
		return false
	case OpNotEqual:
		return !anyMatch(values(attrs, expr.Field), OpEqual, expr.Value)
	case OpEqual:
		vals := values(attrs, expr.Field)
		if expr.Value == nil && len(vals) == 0 {
			return true
		}
		return anyMatch(vals, OpEqual, expr.Value)
	case OpPresent:
		for _, v := range resolve(attrs, expr.Field) {
			if present(v) {
				return true
			}
		}
		return false
	default:
		return anyMatch(values(attrs, expr.Field), expr.Operator, expr.Value)
	}
}

func anyMatch(vals []any, op Operator, literal any) bool {
	for _, v := range vals {
		if compare(v, op, literal) {
			return true
		}
	}
	return false
}

// values resolves an attribute path to the candidate values it addresses.
// Multi-valued attributes are flattened and a complex element compared
// without a sub-attribute contributes its "value".
func values(attrs map[string]any, path string) []any {
	current := resolve(attrs, path)
	out := make([]any, 0, len(current))
	for _, v := range current {
		if m, ok := v.(map[string]any); ok {
			if key, found := scim.FindKey(m, "value"); found {
				out = append(out, m[key])
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// elements resolves a multi-valued attribute to its elements
func elements(attrs map[string]any, path string) []any {
	return resolve(attrs, path)
}

func resolve(attrs map[string]any, path string) []any {
	urn, attr := scim.SplitPath(path)
	root := attrs
	if urn != "" {
		if key, ok := scim.FindKey(attrs, urn); ok {
			ext, isMap := attrs[key].(map[string]any)
			if !isMap {
				return nil
			}
			root = ext
		}
	}
	if attr == "" {
		return nil
	}

	current := []any{root}
	for _, segment := range strings.Split(attr, ".") {
		var next []any
		for _, v := range current {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			key, found := scim.FindKey(m, segment)
			if !found {
				continue
			}
			if list, isList := m[key].([]any); isList {
				next = append(next, list...)
			} else {
				next = append(next, m[key])
			}
		}
		current = next
	}
	return current
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}

// compare applies a comparison operator to one attribute value. String
// comparisons are case-sensitive; relational operators need both sides of
// the same orderable type.
func compare(v any, op Operator, literal any) bool {
	switch op {
	case OpEqual:
		return equal(v, literal)
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok1 := v.(string)
		lit, ok2 := literal.(string)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case OpContains:
			return strings.Contains(s, lit)
		case OpStartsWith:
			return strings.HasPrefix(s, lit)
		default:
			return strings.HasSuffix(s, lit)
		}
	case OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq:
		c, ok := order(v, literal)
		if !ok {
			return false
		}
		switch op {
		case OpGreaterThan:
			return c > 0
		case OpGreaterEq:
			return c >= 0
		case OpLessThan:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

func equal(v, literal any) bool {
	switch lit := literal.(type) {
	case nil:
		return v == nil
	case string:
		s, ok := v.(string)
		return ok && s == lit
	case bool:
		b, ok := v.(bool)
		return ok && b == lit
	case float64:
		n, ok := toFloat(v)
		return ok && n == lit
	}
	return false
}

// order compares v with literal, returning -1, 0 or 1
func order(v, literal any) (int, bool) {
	if lit, ok := literal.(float64); ok {
		n, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		return cmp(n, lit), true
	}

	lit, ok := literal.(string)
	if !ok {
		return 0, false
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	if t1, err := time.Parse(time.RFC3339Nano, s); err == nil {
		if t2, err := time.Parse(time.RFC3339Nano, lit); err == nil {
			return t1.Compare(t2), true
		}
	}
	return strings.Compare(s, lit), true
}

func cmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
