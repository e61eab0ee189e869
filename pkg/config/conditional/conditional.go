// Package conditional collapses conditional config values for a concrete
// device.
//
// A conditional value in a config document is either a literal or a list
// of variants:
//
//	"label": "Dimmer"
//	"label": [
//		{ "$if": "firmwareVersion >= 2.0", "value": "Dimmer v2" },
//		{ "value": "Dimmer" }
//	]
//
// The first variant whose condition holds wins. Only the last variant may
// omit "$if". Evaluating without a device ID treats every condition as
// satisfied, which is how documentation views of all possible settings are
// built.
package conditional

import (
	"errors"
	"fmt"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/logic"
)

// ConditionKey is the object key holding a condition.
const ConditionKey = "$if"

// Applies reports whether cond holds for id. A missing condition or a
// missing device ID always applies.
func Applies(cond *logic.Expression, id *config.DeviceID) bool {
	if cond == nil || id == nil {
		return true
	}
	return cond.Evaluate(logic.VariablesFor(*id))
}

// ParseCondition parses the "$if" entry of obj. It returns nil when obj has
// no condition.
func ParseCondition(obj map[string]any) (*logic.Expression, error) {
	raw, ok := obj[ConditionKey]
	if !ok {
		return nil, nil
	}
	src, ok := raw.(string)
	if !ok {
		return nil, config.Invalidf("%s must be a string, got %T", ConditionKey, raw)
	}
	return logic.Parse(src)
}

// Variant is one alternative of a conditional value.
type Variant[T any] struct {
	// Condition is nil for the unconditional default.
	Condition *logic.Expression
	Value     T
}

// Primitive is a literal value or a list of variants.
type Primitive[T any] struct {
	literal  T
	variants []Variant[T]
}

// Literal returns a Primitive that always evaluates to v.
func Literal[T any](v T) Primitive[T] {
	return Primitive[T]{literal: v}
}

// Variants returns a Primitive choosing between variants.
func Variants[T any](variants ...Variant[T]) Primitive[T] {
	return Primitive[T]{variants: variants}
}

// IsConditional reports whether the value depends on the device.
func (p Primitive[T]) IsConditional() bool {
	return p.variants != nil
}

// Variants returns the alternatives of a conditional value.
func (p Primitive[T]) Variants() []Variant[T] {
	return p.variants
}

// Evaluate returns the value for id: the literal, or the value of the first
// applicable variant. ok is false when no variant applies.
func (p Primitive[T]) Evaluate(id *config.DeviceID) (value T, ok bool) {
	if p.variants == nil {
		return p.literal, true
	}
	for _, v := range p.variants {
		if Applies(v.Condition, id) {
			return v.Value, true
		}
	}
	return value, false
}

// EvaluateAll returns the values of every applicable variant, in order.
func (p Primitive[T]) EvaluateAll(id *config.DeviceID) []T {
	if p.variants == nil {
		return []T{p.literal}
	}
	var out []T
	for _, v := range p.variants {
		if Applies(v.Condition, id) {
			out = append(out, v.Value)
		}
	}
	return out
}

// ParsePrimitive parses a literal or a variant list. decode converts the
// raw JSON value of a literal or of a variant's "value" entry. field names
// the value in error messages.
func ParsePrimitive[T any](raw any, field string, decode func(any) (T, error)) (Primitive[T], error) {
	list, ok := raw.([]any)
	if !ok {
		v, err := decode(raw)
		if err != nil {
			return Primitive[T]{}, fieldError(field, err)
		}
		return Literal(v), nil
	}

	if len(list) == 0 {
		return Primitive[T]{}, config.Invalidf("%s: empty list of variants", field)
	}
	variants := make([]Variant[T], 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return Primitive[T]{}, config.Invalidf("%s[%d]: variant must be an object", field, i)
		}
		cond, err := ParseCondition(obj)
		if err != nil {
			return Primitive[T]{}, fieldError(fmt.Sprintf("%s[%d]", field, i), err)
		}
		if cond == nil && i < len(list)-1 {
			return Primitive[T]{}, config.Invalidf("%s[%d]: only the last variant may omit %s", field, i, ConditionKey)
		}
		rawValue, ok := obj["value"]
		if !ok {
			return Primitive[T]{}, config.Invalidf("%s[%d]: variant without value", field, i)
		}
		v, err := decode(rawValue)
		if err != nil {
			return Primitive[T]{}, fieldError(fmt.Sprintf("%s[%d]", field, i), err)
		}
		variants = append(variants, Variant[T]{Condition: cond, Value: v})
	}
	return Variants(variants...), nil
}

// ParseString parses a conditional string.
func ParseString(raw any, field string) (Primitive[string], error) {
	return ParsePrimitive(raw, field, func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("must be a string, got %T", v)
		}
		return s, nil
	})
}

// fieldError prefixes err with the name of the offending field, keeping it
// an ErrInvalid.
func fieldError(field string, err error) error {
	if errors.Is(err, config.ErrInvalid) {
		return fmt.Errorf("%s: %w", field, err)
	}
	return config.Invalidf("%s: %v", field, err)
}
