package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openidx/scim-engine/internal/scim"
)

// ============================================================
// SCIM Filter to SQL Converter
// ============================================================

// SQLFilter represents a SQL WHERE clause with parameters
type SQLFilter struct {
	WhereClause string
	Args        []interface{}
}

// Segment is one key on the way from the document root to an attribute
type Segment struct {
	Key         string
	MultiValued bool
	Complex     bool
}

// Resolver maps an attribute path onto the keys of the stored jsonb document
type Resolver func(path string) ([]Segment, error)

// ToSQL converts a filter expression into a parameterised PostgreSQL WHERE
// clause over the jsonb column. Placeholders start at firstParam so that the
// clause can follow the caller's own parameters.
func ToSQL(expr *Expression, column string, firstParam int, resolve Resolver) (*SQLFilter, error) {
	if expr == nil {
		return &SQLFilter{WhereClause: "", Args: nil}, nil
	}

	b := &sqlFilterBuilder{
		resolve:    resolve,
		args:       make([]interface{}, 0),
		paramIndex: firstParam,
	}

	where, err := b.buildFilter(expr, scope{base: column})
	if err != nil {
		return nil, err
	}

	return &SQLFilter{WhereClause: where, Args: b.args}, nil
}

// scope is the document a path is resolved against: the row itself, or an
// array element inside attr[filter]
type scope struct {
	base   string
	prefix string
	depth  int
}

// sqlFilterBuilder builds SQL WHERE clauses from filter expressions
type sqlFilterBuilder struct {
	resolve    Resolver
	args       []interface{}
	paramIndex int
	aliases    int
}

// buildFilter recursively builds the SQL WHERE clause
func (b *sqlFilterBuilder) buildFilter(expr *Expression, sc scope) (string, error) {
	switch expr.Operator {
	case OpAnd, OpOr:
		left, err := b.buildFilter(expr.Left, sc)
		if err != nil {
			return "", err
		}
		right, err := b.buildFilter(expr.Right, sc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, strings.ToUpper(string(expr.Operator)), right), nil

	case OpNot:
		child, err := b.buildFilter(expr.Not, sc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", child), nil

	case OpValuePath:
		base, segs, err := b.segments(expr.Field, sc)
		if err != nil {
			return "", err
		}
		prefix := expr.Field
		if sc.prefix != "" {
			prefix = sc.prefix + "." + expr.Field
		}
		depth := sc.depth + len(segs)
		return b.walk(base, segs, func(elem string) (string, error) {
			return b.buildFilter(expr.Filter, scope{base: elem, prefix: prefix, depth: depth})
		})

	case OpNotEqual:
		eq := *expr
		eq.Operator = OpEqual
		inner, err := b.buildComparison(&eq, sc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", inner), nil

	default:
		return b.buildComparison(expr, sc)
	}
}

// buildComparison builds a SQL comparison expression
func (b *sqlFilterBuilder) buildComparison(expr *Expression, sc scope) (string, error) {
	base, segs, err := b.segments(expr.Field, sc)
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("invalid filter field: %s", expr.Field)
	}

	// A complex multi-valued attribute compared without a sub-attribute is
	// compared on its value
	if last := segs[len(segs)-1]; expr.Operator != OpPresent && last.MultiValued && last.Complex {
		segs = append(segs, Segment{Key: "value"})
	}

	// Missing attributes evaluate to NULL; COALESCE keeps not() two-valued
	if expr.Operator == OpEqual && expr.Value == nil {
		where, err := b.walk(base, segs, func(acc string) (string, error) {
			return fmt.Sprintf("COALESCE(%s = 'null'::jsonb, false)", acc), nil
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT (%s) OR %s)", b.presence(base, segs), where), nil
	}

	return b.walk(base, segs, func(acc string) (string, error) {
		pred, err := b.predicate(acc, expr)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, false)", pred), nil
	})
}

// presence reports whether any value exists at segs, null or not
func (b *sqlFilterBuilder) presence(base string, segs []Segment) string {
	where, _ := b.walk(base, segs, func(acc string) (string, error) {
		return fmt.Sprintf("(%s IS NOT NULL)", acc), nil
	})
	return where
}

func (b *sqlFilterBuilder) predicate(acc string, expr *Expression) (string, error) {
	switch expr.Operator {
	case OpEqual:
		lit, err := json.Marshal(expr.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s::jsonb", acc, b.addArg(string(lit))), nil

	case OpContains:
		return b.like(acc, expr, "%", "%")

	case OpStartsWith:
		return b.like(acc, expr, "", "%")

	case OpEndsWith:
		return b.like(acc, expr, "%", "")

	case OpPresent:
		return fmt.Sprintf("(%s IS NOT NULL AND %s NOT IN ('null'::jsonb, '\"\"'::jsonb, '[]'::jsonb, '{}'::jsonb))", acc, acc), nil

	case OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq:
		op := map[Operator]string{OpGreaterThan: ">", OpGreaterEq: ">=", OpLessThan: "<", OpLessEq: "<="}[expr.Operator]
		switch v := expr.Value.(type) {
		case float64:
			return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'number' THEN (%s #>> '{}')::numeric %s %s ELSE false END", acc, acc, op, b.addArg(v)), nil
		case string:
			return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'string' THEN (%s #>> '{}') COLLATE \"C\" %s %s ELSE false END", acc, acc, op, b.addArg(v)), nil
		}
		return "false", nil

	default:
		return "", fmt.Errorf("unsupported operator: %s", expr.Operator)
	}
}

func (b *sqlFilterBuilder) like(acc string, expr *Expression, prefix, suffix string) (string, error) {
	s, ok := expr.Value.(string)
	if !ok {
		return "false", nil
	}
	pattern := prefix + escapeLike(s) + suffix
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'string' THEN (%s #>> '{}') LIKE %s ELSE false END", acc, acc, b.addArg(pattern)), nil
}

// segments resolves a path within the current scope, returning the SQL base
// expression and the segments left to walk from it
func (b *sqlFilterBuilder) segments(field string, sc scope) (string, []Segment, error) {
	path := field
	if sc.prefix != "" {
		path = sc.prefix + "." + field
	}
	segs, err := b.resolve(path)
	if err != nil {
		return "", nil, err
	}
	if sc.depth > len(segs) {
		return "", nil, fmt.Errorf("invalid filter field: %s", field)
	}
	return sc.base, segs[sc.depth:], nil
}

// walk descends through segs from base, expanding every multi-valued
// segment into an EXISTS over its array elements, and applies leaf to the
// final accessor
func (b *sqlFilterBuilder) walk(base string, segs []Segment, leaf func(acc string) (string, error)) (string, error) {
	acc := base
	for i, seg := range segs {
		acc = fmt.Sprintf("%s->%s", acc, quoteLiteral(seg.Key))
		if seg.MultiValued {
			b.aliases++
			alias := fmt.Sprintf("e%d", b.aliases)
			inner, err := b.walk(alias+".elem", segs[i+1:], leaf)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END) AS %s(elem) WHERE %s)",
				acc, acc, alias, inner), nil
		}
	}
	return leaf(acc)
}

// addArg adds a parameter and returns its placeholder
func (b *sqlFilterBuilder) addArg(arg interface{}) string {
	b.args = append(b.args, arg)
	idx := b.paramIndex
	b.paramIndex++
	return fmt.Sprintf("$%d", idx)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ============================================================
// Schema driven path resolution
// ============================================================

// SchemaResolver resolves attribute paths against a resource definition,
// mapping them onto the canonical attribute names used in stored documents.
// Names unknown to the schema are passed through unchanged.
func SchemaResolver(def *scim.Definition) Resolver {
	return func(path string) ([]Segment, error) {
		urn, attr := scim.SplitPath(path)
		if attr == "" {
			return nil, fmt.Errorf("invalid filter field: %s", path)
		}

		var segs []Segment
		schema := def.Core
		if urn != "" && !strings.EqualFold(urn, def.Core.ID) {
			ext, ok := def.Extension(urn)
			if !ok {
				segs = append(segs, Segment{Key: urn, Complex: true})
				schema = nil
			} else {
				segs = append(segs, Segment{Key: ext.ID, Complex: true})
				schema = ext
			}
		}

		var current *scim.Attribute
		for i, name := range strings.Split(attr, ".") {
			var found *scim.Attribute
			switch {
			case i == 0 && schema != nil:
				found, _ = schema.Attribute(name)
			case current != nil:
				found, _ = current.SubAttribute(name)
			}
			if found == nil {
				segs = append(segs, Segment{Key: name})
				current = nil
				continue
			}
			segs = append(segs, Segment{Key: found.Name, MultiValued: found.MultiValued, Complex: found.IsComplex()})
			current = found
		}
		return segs, nil
	}
}
