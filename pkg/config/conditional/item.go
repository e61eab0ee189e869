package conditional

import (
	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/logic"
)

// Item is a conditional config node that resolves to R for a device.
type Item[R any] interface {
	// Condition returns the node's "$if" condition, nil if it has none.
	Condition() *logic.Expression

	// Evaluate resolves the node and its conditional children for id.
	Evaluate(id *config.DeviceID) (R, error)
}

// First resolves the first item that applies to id. ok is false when none
// applies.
func First[R any, I Item[R]](items []I, id *config.DeviceID) (value R, ok bool, err error) {
	for _, item := range items {
		if !Applies(item.Condition(), id) {
			continue
		}
		value, err = item.Evaluate(id)
		return value, err == nil, err
	}
	return value, false, nil
}

// All resolves every item that applies to id, preserving their order.
func All[R any, I Item[R]](items []I, id *config.DeviceID) ([]R, error) {
	var out []R
	for _, item := range items {
		if !Applies(item.Condition(), id) {
			continue
		}
		v, err := item.Evaluate(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Map resolves the first applicable item per key. Keys without an
// applicable item are dropped.
func Map[K comparable, R any, I Item[R]](items map[K][]I, id *config.DeviceID) (map[K]R, error) {
	out := make(map[K]R, len(items))
	for key, candidates := range items {
		v, ok, err := First[R](candidates, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// EvaluateDeep resolves conditions inside a raw JSON value. Objects whose
// "$if" does not apply are removed and the key is stripped from the rest.
// An object holding only "$if" and "value" collapses to its value. Arrays
// of such objects are variant lists: the first applicable entry wins,
// unless preserveArray is set, in which case every applicable entry is
// kept. Other arrays keep all their applicable elements.
//
// ok is false when v itself does not apply.
func EvaluateDeep(v any, id *config.DeviceID, preserveArray bool) (out any, ok bool, err error) {
	switch v := v.(type) {
	case map[string]any:
		cond, err := ParseCondition(v)
		if err != nil {
			return nil, false, err
		}
		if !Applies(cond, id) {
			return nil, false, nil
		}
		if value, wrapped := unwrapVariant(v); wrapped {
			return EvaluateDeep(value, id, preserveArray)
		}
		obj := make(map[string]any, len(v))
		for key, child := range v {
			if key == ConditionKey {
				continue
			}
			resolved, ok, err := EvaluateDeep(child, id, preserveArray)
			if err != nil {
				return nil, false, err
			}
			if ok {
				obj[key] = resolved
			}
		}
		return obj, true, nil

	case []any:
		variants := isVariantList(v)
		list := make([]any, 0, len(v))
		for _, child := range v {
			resolved, ok, err := EvaluateDeep(child, id, preserveArray)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			if variants && !preserveArray {
				return resolved, true, nil
			}
			list = append(list, resolved)
		}
		if variants && !preserveArray {
			return nil, false, nil
		}
		return list, true, nil

	default:
		return v, true, nil
	}
}

func unwrapVariant(obj map[string]any) (any, bool) {
	value, ok := obj["value"]
	if !ok {
		return nil, false
	}
	for key := range obj {
		if key != "value" && key != ConditionKey {
			return nil, false
		}
	}
	return value, true
}

// isVariantList reports whether every element of list is a {"$if", "value"}
// wrapper.
func isVariantList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := unwrapVariant(obj); !ok {
			return false
		}
	}
	return true
}
