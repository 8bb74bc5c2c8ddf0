// Package filter provides SCIM 2.0 filter expression parsing and evaluation
// per RFC 7644 section 3.4.2.2
package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/openidx/scim-engine/internal/common/errors"
)

// ============================================================
// SCIM Filter Expression Parser
// ============================================================

// Operator represents a SCIM filter operator
type Operator string

const (
	OpEqual       Operator = "eq"
	OpNotEqual    Operator = "ne"
	OpContains    Operator = "co"
	OpStartsWith  Operator = "sw"
	OpEndsWith    Operator = "ew"
	OpPresent     Operator = "pr"
	OpGreaterThan Operator = "gt"
	OpGreaterEq   Operator = "ge"
	OpLessThan    Operator = "lt"
	OpLessEq      Operator = "le"
	OpAnd         Operator = "and"
	OpOr          Operator = "or"
	OpNot         Operator = "not"
	OpValuePath   Operator = "[]"
)

var comparators = map[string]Operator{
	"eq": OpEqual,
	"ne": OpNotEqual,
	"co": OpContains,
	"sw": OpStartsWith,
	"ew": OpEndsWith,
	"pr": OpPresent,
	"gt": OpGreaterThan,
	"ge": OpGreaterEq,
	"lt": OpLessThan,
	"le": OpLessEq,
}

// Expression represents a parsed SCIM filter expression. Value holds a
// string, float64, bool or nil literal.
type Expression struct {
	Operator Operator
	Field    string
	Value    any
	Left     *Expression // For and/or
	Right    *Expression // For and/or
	Not      *Expression // For not
	Filter   *Expression // For attr[filter]
}

// String returns the normalised form of the expression
func (e *Expression) String() string {
	switch e.Operator {
	case OpAnd, OpOr:
		return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Operator, e.Right.String())
	case OpNot:
		return fmt.Sprintf("not (%s)", e.Not.String())
	case OpValuePath:
		return fmt.Sprintf("%s[%s]", e.Field, e.Filter.String())
	case OpPresent:
		return fmt.Sprintf("%s pr", e.Field)
	default:
		return fmt.Sprintf("%s %s %s", e.Field, e.Operator, formatLiteral(e.Value))
	}
}

func formatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		data, _ := json.Marshal(val)
		return string(data)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Parse parses a SCIM filter expression string. An empty filter yields a nil
// expression; anything unparseable fails with invalidSyntax.
func Parse(filter string) (*Expression, error) {
	p := newParser(filter)
	if p.input == "" {
		return nil, nil
	}
	expr, err := p.parse()
	if err != nil {
		return nil, errors.InvalidSyntax(fmt.Sprintf("Invalid filter [%s]: %s", filter, err.Error()))
	}
	return expr, nil
}

// parser is a recursive descent parser for SCIM filter expressions
type parser struct {
	input string
	pos   int
}

func newParser(input string) *parser {
	return &parser{input: strings.TrimSpace(input)}
}

func (p *parser) parse() (*Expression, error) {
	expr, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}

	// Ensure we consumed the entire input
	p.skipWhitespace()
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("unexpected character at position %d: %c", p.pos, p.input[p.pos])
	}

	return expr, nil
}

// parseOrExpression parses OR expressions (lowest precedence)
func (p *parser) parseOrExpression() (*Expression, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.consumeKeyword("or") {
			break
		}

		right, err := p.parseAndExpression()
		if err != nil {
			return nil, err
		}

		left = &Expression{Operator: OpOr, Left: left, Right: right}
	}

	return left, nil
}

// parseAndExpression parses AND expressions
func (p *parser) parseAndExpression() (*Expression, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.consumeKeyword("and") {
			break
		}

		right, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}

		left = &Expression{Operator: OpAnd, Left: left, Right: right}
	}

	return left, nil
}

// parseNotExpression parses NOT expressions
func (p *parser) parseNotExpression() (*Expression, error) {
	p.skipWhitespace()
	if p.consumeKeyword("not") {
		p.skipWhitespace()
		if !p.consumeChar('(') {
			return nil, fmt.Errorf("expected '(' after 'not'")
		}

		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}

		p.skipWhitespace()
		if !p.consumeChar(')') {
			return nil, fmt.Errorf("expected ')' after not expression")
		}

		return &Expression{Operator: OpNot, Not: expr}, nil
	}

	return p.parsePrimaryExpression()
}

// parsePrimaryExpression parses parenthesized expressions or simple comparisons
func (p *parser) parsePrimaryExpression() (*Expression, error) {
	p.skipWhitespace()

	if p.consumeChar('(') {
		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}

		p.skipWhitespace()
		if !p.consumeChar(')') {
			return nil, fmt.Errorf("expected ')' to close parenthesized expression")
		}

		return expr, nil
	}

	return p.parseComparison()
}

// parseComparison parses attrPath op value, attrPath pr or attrPath[filter]
func (p *parser) parseComparison() (*Expression, error) {
	field, err := p.parseAttributeName()
	if err != nil {
		return nil, err
	}

	if p.consumeChar('[') {
		inner, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if !p.consumeChar(']') {
			return nil, fmt.Errorf("expected ']' to close value filter on %s", field)
		}
		return &Expression{Operator: OpValuePath, Field: field, Filter: inner}, nil
	}

	p.skipWhitespace()

	operator, err := p.parseOperator()
	if err != nil {
		return nil, err
	}

	if operator == OpPresent {
		return &Expression{Operator: operator, Field: field}, nil
	}

	p.skipWhitespace()

	value, err := p.parseValue()
	if err != nil {
		return nil, fmt.Errorf("failed to parse value: %w", err)
	}

	return &Expression{Operator: operator, Field: field, Value: value}, nil
}

// parseAttributeName parses an attribute path, optionally URN qualified
// (urn:...:User:name.givenName)
func (p *parser) parseAttributeName() (string, error) {
	p.skipWhitespace()

	start := p.pos
	for p.pos < len(p.input) && isNameChar(p.input[p.pos]) {
		p.pos++
	}

	if p.pos == start {
		return "", fmt.Errorf("expected attribute name at position %d", p.pos)
	}

	name := p.input[start:p.pos]
	if first := rune(name[0]); !unicode.IsLetter(first) && first != '$' {
		return "", fmt.Errorf("invalid attribute name %q", name)
	}
	return name, nil
}

func isNameChar(c byte) bool {
	return c < unicode.MaxASCII && (unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))) ||
		c == '_' || c == '-' || c == '.' || c == ':' || c == '$'
}

// parseOperator parses a comparison operator followed by a word boundary
func (p *parser) parseOperator() (Operator, error) {
	if p.pos+2 > len(p.input) {
		return "", fmt.Errorf("unexpected end of input while parsing operator")
	}

	op, ok := comparators[p.input[p.pos:p.pos+2]]
	if !ok || !p.boundaryAt(p.pos+2) {
		return "", fmt.Errorf("invalid operator at position %d", p.pos)
	}
	p.pos += 2
	return op, nil
}

// parseValue parses a quoted string, true, false, null or a number
func (p *parser) parseValue() (any, error) {
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of input while parsing value")
	}

	if p.input[p.pos] == '"' {
		return p.parseQuotedString()
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsSpace(rune(c)) || c == ')' || c == ']' {
			break
		}
		p.pos++
	}
	token := p.input[start:p.pos]

	switch token {
	case "":
		return nil, fmt.Errorf("expected value at position %d", start)
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	num, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid literal %q at position %d", token, start)
	}
	return num, nil
}

// parseQuotedString parses a double-quoted JSON string
func (p *parser) parseQuotedString() (string, error) {
	start := p.pos
	p.pos++ // Skip opening quote

	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '\\' && p.pos+1 < len(p.input) {
			p.pos += 2
			continue
		}
		if c == '"' {
			p.pos++
			var value string
			if err := json.Unmarshal([]byte(p.input[start:p.pos]), &value); err != nil {
				return "", fmt.Errorf("invalid string literal at position %d", start)
			}
			return value, nil
		}
		p.pos++
	}

	return "", fmt.Errorf("unterminated quoted string")
}

// skipWhitespace skips whitespace characters
func (p *parser) skipWhitespace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// consumeKeyword consumes a lowercase keyword followed by a word boundary
func (p *parser) consumeKeyword(keyword string) bool {
	end := p.pos + len(keyword)
	if end > len(p.input) || p.input[p.pos:end] != keyword || !p.boundaryAt(end) {
		return false
	}
	p.pos = end
	return true
}

// boundaryAt reports whether a keyword may end at position i
func (p *parser) boundaryAt(i int) bool {
	if i >= len(p.input) {
		return true
	}
	c := p.input[i]
	return unicode.IsSpace(rune(c)) || c == '(' || c == ')' || c == '"' || c == '[' || c == ']'
}

// consumeChar consumes c if it is the next character
func (p *parser) consumeChar(c byte) bool {
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return false
	}
	p.pos++
	return true
}
