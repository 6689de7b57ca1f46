package progression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Sandboxed level formula
// ═══════════════════════════════════════════════════════════════════════════
//
// Grammar (right-associative power, unary minus binds looser than power):
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("-" | "+") unary | power
//	power   = primary [ ("^" | "**") unary ]
//	primary = number | "level" | "(" expr ")"
//
// Nothing else is accepted: no function calls, no other identifiers.

const (
	maxFormulaLength = 256
	maxFormulaDepth  = 32
)

// FormulaError describes why a formula was rejected.
type FormulaError struct {
	Pos int
	Msg string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula error at %d: %s", e.Pos, e.Msg)
}

// Formula is a compiled level-curve expression.
type Formula struct {
	source string
	root   node
}

// CompileFormula parses expr into an evaluable Formula.
func CompileFormula(expr string) (*Formula, error) {
	if len(expr) > maxFormulaLength {
		return nil, &FormulaError{Pos: maxFormulaLength, Msg: "formula too long"}
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &FormulaError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return &Formula{source: expr, root: root}, nil
}

// Source returns the original expression text.
func (f *Formula) Source() string { return f.source }

// Eval evaluates the formula with level bound to the given value.
func (f *Formula) Eval(level float64) (float64, error) {
	v, err := f.root.eval(level)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &FormulaError{Msg: "result is not a finite number"}
	}
	return v, nil
}

// ── AST ────────────────────────────────────────────────────────────────────

type node interface {
	eval(level float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(float64) (float64, error) { return float64(n), nil }

type levelNode struct{}

func (levelNode) eval(level float64) (float64, error) { return level, nil }

type negNode struct{ x node }

func (n negNode) eval(level float64) (float64, error) {
	v, err := n.x.eval(level)
	return -v, err
}

type binaryNode struct {
	op   byte // + - * / ^
	l, r node
}

func (n binaryNode) eval(level float64) (float64, error) {
	a, err := n.l.eval(level)
	if err != nil {
		return 0, err
	}
	b, err := n.r.eval(level)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, &FormulaError{Msg: "division by zero"}
		}
		return a / b, nil
	case '^':
		return math.Pow(a, b), nil
	}
	return 0, &FormulaError{Msg: fmt.Sprintf("unknown operator %q", n.op)}
}

// ── Lexer ──────────────────────────────────────────────────────────────────

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokLevel
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			text := src[start:i]
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &FormulaError{Pos: start, Msg: fmt.Sprintf("bad number %q", text)}
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: v, pos: start})
		case isIdentByte(c):
			start := i
			for i < len(src) && (isIdentByte(src[i]) || src[i] >= '0' && src[i] <= '9') {
				i++
			}
			ident := src[start:i]
			if !strings.EqualFold(ident, "level") {
				return nil, &FormulaError{Pos: start, Msg: fmt.Sprintf("unknown identifier %q", ident)}
			}
			toks = append(toks, token{kind: tokLevel, text: ident, pos: start})
		case c == '*' && i+1 < len(src) && src[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "^", pos: i})
			i += 2
		case strings.IndexByte("+-*/^", c) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			return nil, &FormulaError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// ── Parser ─────────────────────────────────────────────────────────────────

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops string) bool {
	t := p.peek()
	return t.kind == tokOp && strings.Contains(ops, t.text)
}

func (p *parser) expr(depth int) (node, error) {
	if depth > maxFormulaDepth {
		return nil, &FormulaError{Pos: p.peek().pos, Msg: "formula nested too deeply"}
	}
	left, err := p.term(depth)
	if err != nil {
		return nil, err
	}
	for p.isOp("+-") {
		op := p.next().text[0]
		right, err := p.term(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) term(depth int) (node, error) {
	left, err := p.unary(depth)
	if err != nil {
		return nil, err
	}
	for p.isOp("*/") {
		op := p.next().text[0]
		right, err := p.unary(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) unary(depth int) (node, error) {
	if depth > maxFormulaDepth {
		return nil, &FormulaError{Pos: p.peek().pos, Msg: "formula nested too deeply"}
	}
	if p.isOp("-+") {
		op := p.next().text
		x, err := p.unary(depth + 1)
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return negNode{x: x}, nil
		}
		return x, nil
	}
	return p.power(depth)
}

func (p *parser) power(depth int) (node, error) {
	base, err := p.primary(depth)
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.unary(depth + 1)
		if err != nil {
			return nil, err
		}
		return binaryNode{op: '^', l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) primary(depth int) (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.num), nil
	case tokLevel:
		return levelNode{}, nil
	case tokLParen:
		inner, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &FormulaError{Pos: closing.pos, Msg: "missing closing parenthesis"}
		}
		return inner, nil
	case tokEOF:
		return nil, &FormulaError{Pos: t.pos, Msg: "unexpected end of formula"}
	default:
		return nil, &FormulaError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}
