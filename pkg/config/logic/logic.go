// Package logic parses and evaluates the condition expressions of device
// config files, such as
//
//	firmwareVersion >= 1.2 && (productId === 0x0005 || productId === 0x0006)
//
// Grammar:
//
//	or         := and ("||" and)*
//	and        := term ("&&" term)*
//	term       := "(" or ")" | comparison
//	comparison := operand op operand
//	op         := ">=" | ">" | "<=" | "<" | "==="
//	operand    := identifier | number | version
//
// A comparison with a version literal on either side compares semantic
// versions after padding both sides to three components. Errors during
// evaluation make the comparison false.
package logic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/zwave/pkg/config"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Variable names bound by VariablesFor.
const (
	VarManufacturerID  = "manufacturerId"
	VarProductType     = "productType"
	VarProductID       = "productId"
	VarFirmwareVersion = "firmwareVersion"
)

const parseCacheSize = 1024

// parseCache memoizes parsed conditions, which repeat across device
// files. Expressions are immutable, so entries never go stale.
var parseCache, _ = lru.New[string, *Expression](parseCacheSize)

// ClearParseCache drops every memoized condition.
func ClearParseCache() {
	parseCache.Purge()
}

// Variables binds identifier names to values. Values are int for numeric
// fields and string for versions.
type Variables map[string]any

// VariablesFor returns the variables of a device. The firmware version is
// only bound when known.
func VariablesFor(id config.DeviceID) Variables {
	vars := Variables{
		VarManufacturerID: int(id.ManufacturerID),
		VarProductType:    int(id.ProductType),
		VarProductID:      int(id.ProductID),
	}
	if id.FirmwareVersion != "" {
		vars[VarFirmwareVersion] = id.FirmwareVersion
	}
	return vars
}

// Expression is a parsed condition.
type Expression struct {
	src  string
	root node
}

// Parse parses a condition. Syntax errors wrap config.ErrInvalid and quote
// the condition.
func Parse(src string) (*Expression, error) {
	if e, ok := parseCache.Get(src); ok {
		return e, nil
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, config.Invalidf("invalid condition %q: %v", src, err)
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err == nil && p.peek().kind != tokEOF {
		err = p.unexpected()
	}
	if err != nil {
		return nil, config.Invalidf("invalid condition %q: %v", src, err)
	}

	e := &Expression{src: src, root: root}
	parseCache.Add(src, e)
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expression {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Evaluate parses and evaluates a condition in one step.
func Evaluate(src string, vars Variables) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return e.Evaluate(vars), nil
}

// String returns the source text of the condition.
func (e *Expression) String() string {
	return e.src
}

// Evaluate evaluates the condition against vars.
func (e *Expression) Evaluate(vars Variables) bool {
	return e.root.eval(vars)
}

// Rules returns the syntax tree in JSON-logic form, e.g.
// {"and": [{"ver >=": [{"var": "firmwareVersion"}, "1.2"]}, ...]}.
func (e *Expression) Rules() map[string]any {
	return e.root.rules()
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) unexpected() error {
	t := p.peek()
	if t.kind == tokEOF {
		return fmt.Errorf("unexpected end of input")
	}
	return fmt.Errorf("unexpected %s %q at offset %d", t.kind, t.text, t.pos)
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for p.peek().kind == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return orNode(terms), nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for p.peek().kind == tokAnd {
		p.next()
		n, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return andNode(terms), nil
}

func (p *parser) parseTerm() (node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.unexpected()
		}
		p.next()
		return n, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokOperator {
		return nil, p.unexpected()
	}
	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &comparison{
		op:      op,
		version: left.kind == operandVersion || right.kind == operandVersion,
		left:    left,
		right:   right,
	}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.next()
		return operand{kind: operandVar, text: t.text}, nil
	case tokVersion:
		p.next()
		return operand{kind: operandVersion, text: t.text}, nil
	case tokNumber:
		p.next()
		text, base := t.text, 10
		if strings.HasPrefix(text, "0x") {
			text, base = text[2:], 16
		}
		n, err := strconv.ParseInt(text, base, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q at offset %d", t.text, t.pos)
		}
		return operand{kind: operandNumber, text: t.text, num: n}, nil
	default:
		return operand{}, p.unexpected()
	}
}
