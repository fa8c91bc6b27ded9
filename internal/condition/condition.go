// Package condition parses and evaluates gate expressions attached to
// action policies. Expressions are parsed once at config-load time into a
// small AST so that evaluation against an alert is total and side-effect
// free.
package condition

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"

	"astra-responder/internal/schema"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpEquals    Operator = "=="
	OpNotEquals Operator = "!="
	OpGreater   Operator = ">"
	OpGreaterEq Operator = ">="
	OpLess      Operator = "<"
	OpLessEq    Operator = "<="
)

// isOrdering reports whether the operator requires ordered operands.
func (o Operator) isOrdering() bool {
	switch o {
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return true
	}
	return false
}

// ValueKind tags the parsed right-hand side of an expression.
type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueString
	ValueSeverity
	ValueNetwork
)

// Expr is one parsed gate expression: field, operator, literal.
type Expr struct {
	Field string
	Op    Operator
	Kind  ValueKind

	Num      float64
	Str      string
	Severity schema.Severity
	Network  *net.IPNet

	// Raw preserves the source text for history entries and round-tripping
	// the policy through the API.
	Raw string
}

// String returns the original expression text.
func (e *Expr) String() string {
	return e.Raw
}

// ParseError reports a malformed or unresolvable expression. Raised at
// config-load time, never mid-processing.
type ParseError struct {
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Expression, e.Reason)
}

// EvalError reports a failure while evaluating a parsed expression against
// an alert. The engine treats it as "condition not satisfied" and records it.
type EvalError struct {
	Expression string
	Reason     string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expression, e.Reason)
}

type lexer struct {
	input   string
	pos     int
	current rune
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	if len(input) > 0 {
		l.current = rune(input[0])
	}
	return l
}

func (l *lexer) advance() {
	l.pos++
	if l.pos < len(l.input) {
		l.current = rune(l.input[l.pos])
	} else {
		l.current = 0
	}
}

func (l *lexer) skipWhitespace() {
	for unicode.IsSpace(l.current) {
		l.advance()
	}
}

func (l *lexer) readIdentifier() string {
	start := l.pos
	for unicode.IsLetter(l.current) || unicode.IsDigit(l.current) || l.current == '_' {
		l.advance()
	}
	return l.input[start:l.pos]
}

func (l *lexer) readOperator() (Operator, error) {
	switch l.current {
	case '=':
		l.advance()
		if l.current == '=' {
			l.advance()
			return OpEquals, nil
		}
		return "", fmt.Errorf("expected '==' at position %d", l.pos)
	case '!':
		l.advance()
		if l.current == '=' {
			l.advance()
			return OpNotEquals, nil
		}
		return "", fmt.Errorf("expected '!=' at position %d", l.pos)
	case '>':
		l.advance()
		if l.current == '=' {
			l.advance()
			return OpGreaterEq, nil
		}
		return OpGreater, nil
	case '<':
		l.advance()
		if l.current == '=' {
			l.advance()
			return OpLessEq, nil
		}
		return OpLess, nil
	}
	return "", fmt.Errorf("unexpected character %q at position %d", l.current, l.pos)
}

func (l *lexer) readValue() (string, bool, error) {
	if l.current == '\'' || l.current == '"' {
		quote := l.current
		l.advance()
		start := l.pos
		for l.current != quote && l.current != 0 {
			l.advance()
		}
		if l.current == 0 {
			return "", false, fmt.Errorf("unterminated string literal")
		}
		value := l.input[start:l.pos]
		l.advance()
		return value, true, nil
	}

	start := l.pos
	for l.current != 0 && !unicode.IsSpace(l.current) {
		l.advance()
	}
	if start == l.pos {
		return "", false, fmt.Errorf("missing value")
	}
	return l.input[start:l.pos], false, nil
}

// Parse parses one expression of the form "field op literal". Unknown field
// identifiers are a configuration error so a typo cannot silently disable a
// countermeasure.
func Parse(expression string) (*Expr, error) {
	l := newLexer(expression)

	l.skipWhitespace()
	field := l.readIdentifier()
	if field == "" {
		return nil, &ParseError{Expression: expression, Reason: "missing field identifier"}
	}
	if !schema.IsConditionField(field) {
		return nil, &ParseError{
			Expression: expression,
			Reason:     fmt.Sprintf("unknown field %q (known: %s)", field, strings.Join(schema.ConditionFields(), ", ")),
		}
	}

	l.skipWhitespace()
	op, err := l.readOperator()
	if err != nil {
		return nil, &ParseError{Expression: expression, Reason: err.Error()}
	}

	l.skipWhitespace()
	value, quoted, err := l.readValue()
	if err != nil {
		return nil, &ParseError{Expression: expression, Reason: err.Error()}
	}

	l.skipWhitespace()
	if l.current != 0 {
		return nil, &ParseError{Expression: expression, Reason: "unexpected trailing input"}
	}

	expr := &Expr{Field: field, Op: op, Raw: expression}
	if err := expr.bindValue(value, quoted); err != nil {
		return nil, err
	}
	return expr, nil
}

// bindValue types the literal against the field and rejects operator/field
// combinations that can never evaluate.
func (e *Expr) bindValue(value string, quoted bool) error {
	switch e.Field {
	case "confidence", "source_port", "target_port":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &ParseError{Expression: e.Raw, Reason: fmt.Sprintf("%s requires a numeric literal, got %q", e.Field, value)}
		}
		e.Kind = ValueNumber
		e.Num = n
		return nil

	case "severity":
		sev := schema.Severity(value)
		if !sev.IsValid() {
			return &ParseError{Expression: e.Raw, Reason: fmt.Sprintf("unknown severity %q", value)}
		}
		e.Kind = ValueSeverity
		e.Severity = sev
		return nil

	case "source_ip", "target_ip":
		if e.Op.isOrdering() {
			return &ParseError{Expression: e.Raw, Reason: fmt.Sprintf("operator %s is not valid for %s", e.Op, e.Field)}
		}
		ipnet, err := parseNetwork(value)
		if err != nil {
			return &ParseError{Expression: e.Raw, Reason: err.Error()}
		}
		e.Kind = ValueNetwork
		e.Network = ipnet
		e.Str = value
		return nil

	default:
		if e.Op.isOrdering() {
			return &ParseError{Expression: e.Raw, Reason: fmt.Sprintf("operator %s is not valid for %s", e.Op, e.Field)}
		}
		if !quoted && value == "" {
			return &ParseError{Expression: e.Raw, Reason: "missing value"}
		}
		e.Kind = ValueString
		e.Str = value
		return nil
	}
}

// parseNetwork parses a CIDR, treating a bare IP as a /32 (or /128).
func parseNetwork(value string) (*net.IPNet, error) {
	if _, ipnet, err := net.ParseCIDR(value); err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return nil, fmt.Errorf("%q is not a valid IP or CIDR", value)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// Evaluate evaluates the expression against an alert context. It never
// touches shared state; a failure means the condition cannot be decided and
// the caller treats it as not satisfied.
func (e *Expr) Evaluate(ctx *schema.AlertContext) (bool, error) {
	raw, ok := ctx.Field(e.Field)
	if !ok {
		// Unreachable after Parse, kept as a guard for hand-built exprs.
		return false, &EvalError{Expression: e.Raw, Reason: fmt.Sprintf("unknown field %q", e.Field)}
	}

	switch e.Kind {
	case ValueNumber:
		n, ok := raw.(float64)
		if !ok {
			return false, &EvalError{Expression: e.Raw, Reason: fmt.Sprintf("field %s is not numeric", e.Field)}
		}
		return compareFloat(n, e.Num, e.Op), nil

	case ValueSeverity:
		sev := schema.Severity(raw.(string))
		if e.Op == OpEquals {
			return sev == e.Severity, nil
		}
		if e.Op == OpNotEquals {
			return sev != e.Severity, nil
		}
		if sev.Rank() < 0 {
			return false, &EvalError{Expression: e.Raw, Reason: fmt.Sprintf("alert has unknown severity %q", sev)}
		}
		return compareFloat(float64(sev.Rank()), float64(e.Severity.Rank()), e.Op), nil

	case ValueNetwork:
		s, _ := raw.(string)
		if s == "" {
			return false, &EvalError{Expression: e.Raw, Reason: fmt.Sprintf("alert has no %s", e.Field)}
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return false, &EvalError{Expression: e.Raw, Reason: fmt.Sprintf("%s %q is not a valid IP", e.Field, s)}
		}
		contained := e.Network.Contains(ip)
		if e.Op == OpNotEquals {
			return !contained, nil
		}
		return contained, nil

	default:
		s, _ := raw.(string)
		if e.Op == OpNotEquals {
			return s != e.Str, nil
		}
		return s == e.Str, nil
	}
}

func compareFloat(a, b float64, op Operator) bool {
	switch op {
	case OpEquals:
		return a == b
	case OpNotEquals:
		return a != b
	case OpGreater:
		return a > b
	case OpGreaterEq:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEq:
		return a <= b
	}
	return false
}

// ParseAll parses a list of expressions, failing on the first invalid one.
func ParseAll(expressions []string) ([]*Expr, error) {
	exprs := make([]*Expr, 0, len(expressions))
	for _, raw := range expressions {
		expr, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

// EvaluateAll combines expressions with AND. An empty list is trivially
// true. The first false or failing expression decides the result; the error
// (if any) is returned alongside so the caller can record it.
func EvaluateAll(exprs []*Expr, ctx *schema.AlertContext) (bool, error) {
	for _, expr := range exprs {
		ok, err := expr.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
