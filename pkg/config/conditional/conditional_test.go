package conditional

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/logic"
)

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func device(productID uint16) *config.DeviceID {
	return &config.DeviceID{ManufacturerID: 0x86, ProductType: 2, ProductID: productID, FirmwareVersion: "1.5"}
}

func TestPrimitiveVariants(t *testing.T) {
	raw := decodeJSON(t, `[{"value": "A", "$if": "productId === 5"}, {"value": "B"}]`)
	p, err := ParseString(raw, "label")
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsConditional() {
		t.Fatal("variant list parsed as literal")
	}

	tests := []struct {
		name string
		id   *config.DeviceID
		want string
	}{
		{"matching condition", device(5), "A"},
		{"default", device(6), "B"},
		{"no device", nil, "A"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := p.Evaluate(tc.id)
			if !ok || got != tc.want {
				t.Errorf("Evaluate = %q, %v, want %q", got, ok, tc.want)
			}
		})
	}

	if got := p.EvaluateAll(nil); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("EvaluateAll(nil) = %v", got)
	}
	if got := p.EvaluateAll(device(6)); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("EvaluateAll(6) = %v", got)
	}
}

func TestPrimitiveLiteral(t *testing.T) {
	p, err := ParseString("Dimmer", "label")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := p.Evaluate(device(1)); !ok || got != "Dimmer" {
		t.Errorf("Evaluate = %q, %v", got, ok)
	}
}

func TestPrimitiveNoMatch(t *testing.T) {
	p, err := ParseString(decodeJSON(t, `[{"value": "A", "$if": "productId === 5"}]`), "label")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Evaluate(device(6)); ok {
		t.Error("Evaluate matched although no variant applies")
	}
}

func TestParsePrimitiveErrors(t *testing.T) {
	for _, s := range []string{
		`[]`,
		`[{"value": "A"}, {"value": "B"}]`,
		`[{"$if": "productId === 5"}]`,
		`["A"]`,
		`[{"value": "A", "$if": "productId =="}]`,
		`[{"value": "A", "$if": 5}]`,
		`[{"value": 1}]`,
		`1`,
	} {
		if _, err := ParseString(decodeJSON(t, s), "label"); !errors.Is(err, config.ErrInvalid) {
			t.Errorf("ParseString(%s): got %v, want ErrInvalid", s, err)
		}
	}
}

type testItem struct {
	cond  *logic.Expression
	value string
}

func (i testItem) Condition() *logic.Expression { return i.cond }

func (i testItem) Evaluate(*config.DeviceID) (string, error) { return i.value, nil }

func TestItems(t *testing.T) {
	items := []testItem{
		{logic.MustParse("productId === 5"), "five"},
		{logic.MustParse("productId > 4"), "more than four"},
		{nil, "default"},
	}

	got, ok, err := First[string](items, device(5))
	if err != nil || !ok || got != "five" {
		t.Errorf("First(5) = %q, %v, %v", got, ok, err)
	}
	got, _, _ = First[string](items, device(1))
	if got != "default" {
		t.Errorf("First(1) = %q", got)
	}

	all, err := All[string](items, device(6))
	if err != nil || !reflect.DeepEqual(all, []string{"more than four", "default"}) {
		t.Errorf("All(6) = %v, %v", all, err)
	}
	all, _ = All[string](items, nil)
	if len(all) != 3 {
		t.Errorf("All(nil) returned %d items", len(all))
	}

	m, err := Map[string, string](map[string][]testItem{
		"a": items,
		"b": {{logic.MustParse("productId === 9"), "nine"}},
	}, device(5))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m, map[string]string{"a": "five"}) {
		t.Errorf("Map = %v", m)
	}
}

func TestEvaluateDeep(t *testing.T) {
	raw := decodeJSON(t, `{
		"a": [{"$if": "productId === 5", "value": 1}, {"value": 2}],
		"b": {"$if": "productId === 6", "x": 1},
		"c": {"$if": "productId === 5", "x": 1},
		"d": [1, 2, {"$if": "productId === 6", "y": 1}],
		"e": "plain"
	}`)

	got, ok, err := EvaluateDeep(raw, device(5), false)
	if err != nil || !ok {
		t.Fatalf("EvaluateDeep failed: %v, %v", ok, err)
	}
	want := decodeJSON(t, `{"a": 1, "c": {"x": 1}, "d": [1, 2], "e": "plain"}`)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EvaluateDeep = %v, want %v", got, want)
	}

	got, _, _ = EvaluateDeep(raw, nil, true)
	want = decodeJSON(t, `{"a": [1, 2], "b": {"x": 1}, "c": {"x": 1}, "d": [1, 2, {"y": 1}], "e": "plain"}`)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EvaluateDeep(nil, preserve) = %v, want %v", got, want)
	}
}
