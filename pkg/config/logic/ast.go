package logic

import (
	"strconv"

	"github.com/backkem/zwave/pkg/config"
)

type node interface {
	eval(vars Variables) bool
	rules() map[string]any
}

type andNode []node

func (n andNode) eval(vars Variables) bool {
	for _, term := range n {
		if !term.eval(vars) {
			return false
		}
	}
	return true
}

func (n andNode) rules() map[string]any {
	return map[string]any{"and": childRules(n)}
}

type orNode []node

func (n orNode) eval(vars Variables) bool {
	for _, term := range n {
		if term.eval(vars) {
			return true
		}
	}
	return false
}

func (n orNode) rules() map[string]any {
	return map[string]any{"or": childRules(n)}
}

func childRules(nodes []node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.rules()
	}
	return out
}

type operandKind int

const (
	operandVar operandKind = iota
	operandNumber
	operandVersion
)

type operand struct {
	kind operandKind
	text string
	num  int64
}

func (o operand) rule() any {
	switch o.kind {
	case operandVar:
		return map[string]any{"var": o.text}
	case operandNumber:
		return o.num
	default:
		return o.text
	}
}

// resolve returns the operand's value: int64 or string, nil when unbound.
func (o operand) resolve(vars Variables) any {
	switch o.kind {
	case operandNumber:
		return o.num
	case operandVersion:
		return o.text
	}

	switch v := vars[o.text].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint16:
		return int64(v)
	case string:
		return v
	default:
		return nil
	}
}

type comparison struct {
	op      string
	version bool
	left    operand
	right   operand
}

func (c *comparison) rules() map[string]any {
	op := c.op
	if c.version {
		op = "ver " + op
	}
	return map[string]any{op: []any{c.left.rule(), c.right.rule()}}
}

func (c *comparison) eval(vars Variables) bool {
	a, b := c.left.resolve(vars), c.right.resolve(vars)
	if a == nil || b == nil {
		return false
	}

	var cmp int
	if c.version {
		var err error
		cmp, err = config.CompareVersions(asString(a), asString(b))
		if err != nil {
			return false
		}
	} else {
		if c.op == "===" {
			return a == b
		}
		x, ok1 := asNumber(a)
		y, ok2 := asNumber(b)
		if !ok1 || !ok2 {
			return false
		}
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	}

	switch c.op {
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	default:
		return cmp == 0
	}
}

func asString(v any) string {
	if n, ok := v.(int64); ok {
		return strconv.FormatInt(n, 10)
	}
	return v.(string)
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
