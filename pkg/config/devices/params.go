package devices

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/conditional"
	"github.com/backkem/zwave/pkg/config/logic"
)

// paramKeyRegex matches the "#" key of a parameter: a parameter number and
// an optional value bit mask for partial parameters.
var paramKeyRegex = regexp.MustCompile(`^(\d+)(?:\[0x([0-9a-fA-F]+)\])?$`)

// ParamKey identifies a configuration parameter or a part of one.
type ParamKey struct {
	Parameter uint16

	// ValueBitMask selects the bits of a partial parameter. Zero for whole
	// parameters.
	ValueBitMask uint32
}

// String formats the key the way config files write it.
func (k ParamKey) String() string {
	if k.ValueBitMask == 0 {
		return strconv.Itoa(int(k.Parameter))
	}
	return fmt.Sprintf("%d[%#x]", k.Parameter, k.ValueBitMask)
}

// ParseParamKey parses keys such as "3" and "3[0xff00]".
func ParseParamKey(s string) (ParamKey, error) {
	m := paramKeyRegex.FindStringSubmatch(s)
	if m == nil {
		return ParamKey{}, config.Invalidf("%q is not a valid parameter key", s)
	}
	param, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return ParamKey{}, config.Invalidf("parameter number %q out of range", m[1])
	}
	key := ParamKey{Parameter: uint16(param)}
	if m[2] != "" {
		mask, err := strconv.ParseUint(m[2], 16, 32)
		if err != nil || mask == 0 {
			return ParamKey{}, config.Invalidf("invalid value bit mask in %q", s)
		}
		key.ValueBitMask = uint32(mask)
	}
	return key, nil
}

// ParamOption is a named value of a parameter.
type ParamOption struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// ParamInfo is an evaluated configuration parameter.
type ParamInfo struct {
	Key              ParamKey      `json:"-"`
	Label            string        `json:"label"`
	Description      string        `json:"description,omitempty"`
	ValueSize        int           `json:"valueSize"`
	MinValue         int64         `json:"minValue"`
	MaxValue         int64         `json:"maxValue"`
	DefaultValue     int64         `json:"defaultValue"`
	Unsigned         bool          `json:"unsigned,omitempty"`
	ReadOnly         bool          `json:"readOnly,omitempty"`
	WriteOnly        bool          `json:"writeOnly,omitempty"`
	AllowManualEntry bool          `json:"allowManualEntry"`
	Unit             string        `json:"unit,omitempty"`
	Options          []ParamOption `json:"options,omitempty"`
}

type conditionalParamOption struct {
	condition *logic.Expression
	option    ParamOption
}

func (o *conditionalParamOption) Condition() *logic.Expression { return o.condition }

func (o *conditionalParamOption) Evaluate(*config.DeviceID) (ParamOption, error) {
	return o.option, nil
}

// ConditionalParamInfo is a parameter definition before evaluation.
type ConditionalParamInfo struct {
	Key       ParamKey
	condition *logic.Expression

	Label            conditional.Primitive[string]
	Description      conditional.Primitive[string]
	ValueSize        int
	MinValue         *int64
	MaxValue         *int64
	DefaultValue     int64
	Unsigned         bool
	ReadOnly         bool
	WriteOnly        bool
	AllowManualEntry bool
	Unit             string
	options          []*conditionalParamOption
}

// Condition implements conditional.Item.
func (p *ConditionalParamInfo) Condition() *logic.Expression { return p.condition }

// Evaluate implements conditional.Item. Without min or max, the bounds are
// taken from the options when manual entry is disallowed.
func (p *ConditionalParamInfo) Evaluate(id *config.DeviceID) (*ParamInfo, error) {
	options, err := conditional.All[ParamOption](p.options, id)
	if err != nil {
		return nil, err
	}
	label, _ := p.Label.Evaluate(id)
	description, _ := p.Description.Evaluate(id)

	info := &ParamInfo{
		Key:              p.Key,
		Label:            label,
		Description:      description,
		ValueSize:        p.ValueSize,
		DefaultValue:     p.DefaultValue,
		Unsigned:         p.Unsigned,
		ReadOnly:         p.ReadOnly,
		WriteOnly:        p.WriteOnly,
		AllowManualEntry: p.AllowManualEntry,
		Unit:             p.Unit,
		Options:          options,
	}

	switch {
	case p.MinValue != nil && p.MaxValue != nil:
		info.MinValue, info.MaxValue = *p.MinValue, *p.MaxValue
	case !p.AllowManualEntry && len(options) > 0:
		info.MinValue, info.MaxValue = options[0].Value, options[0].Value
		for _, o := range options[1:] {
			info.MinValue = min(info.MinValue, o.Value)
			info.MaxValue = max(info.MaxValue, o.Value)
		}
		if p.MinValue != nil {
			info.MinValue = *p.MinValue
		}
		if p.MaxValue != nil {
			info.MaxValue = *p.MaxValue
		}
	default:
		return nil, config.Invalidf("parameter %s: minValue and maxValue are required unless manual entry is disallowed and options are given", p.Key)
	}
	if info.MinValue > info.MaxValue {
		return nil, config.Invalidf("parameter %s: minValue %d exceeds maxValue %d", p.Key, info.MinValue, info.MaxValue)
	}
	return info, nil
}

// parseParam parses one entry of "paramInformation".
func parseParam(obj map[string]any, path string) (*ConditionalParamInfo, error) {
	rawKey, err := stringField(obj, "#", path, true)
	if err != nil {
		return nil, err
	}
	key, err := ParseParamKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	path = fmt.Sprintf("%s[#%s]", path, rawKey)

	p := &ConditionalParamInfo{Key: key}
	if p.condition, err = conditional.ParseCondition(obj); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if _, ok := obj["label"]; !ok {
		return nil, invalidField(fieldPath(path, "label"), "is required")
	}
	if p.Label, err = conditional.ParseString(obj["label"], fieldPath(path, "label")); err != nil {
		return nil, err
	}
	if raw, ok := obj["description"]; ok {
		if p.Description, err = conditional.ParseString(raw, fieldPath(path, "description")); err != nil {
			return nil, err
		}
	}

	size, err := intField(obj, "valueSize", path)
	if err != nil {
		return nil, err
	}
	if size == nil || (*size != 1 && *size != 2 && *size != 4) {
		return nil, invalidField(fieldPath(path, "valueSize"), "must be 1, 2 or 4")
	}
	p.ValueSize = int(*size)

	if p.MinValue, err = intField(obj, "minValue", path); err != nil {
		return nil, err
	}
	if p.MaxValue, err = intField(obj, "maxValue", path); err != nil {
		return nil, err
	}
	def, err := intField(obj, "defaultValue", path)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, invalidField(fieldPath(path, "defaultValue"), "is required")
	}
	p.DefaultValue = *def

	if p.Unsigned, err = boolField(obj, "unsigned", path, false); err != nil {
		return nil, err
	}
	if p.ReadOnly, err = boolField(obj, "readOnly", path, false); err != nil {
		return nil, err
	}
	if p.WriteOnly, err = boolField(obj, "writeOnly", path, false); err != nil {
		return nil, err
	}
	if p.ReadOnly && p.WriteOnly {
		return nil, invalidField(path, "readOnly and writeOnly are mutually exclusive")
	}
	if p.AllowManualEntry, err = boolField(obj, "allowManualEntry", path, !p.ReadOnly); err != nil {
		return nil, err
	}
	if p.Unit, err = stringField(obj, "unit", path, false); err != nil {
		return nil, err
	}

	if raw, ok := obj["options"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, invalidField(fieldPath(path, "options"), "must be an array")
		}
		for i, entry := range list {
			opt, err := parseParamOption(entry, fmt.Sprintf("%s.options[%d]", path, i))
			if err != nil {
				return nil, err
			}
			p.options = append(p.options, opt)
		}
	}
	return p, nil
}

func parseParamOption(raw any, path string) (*conditionalParamOption, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidField(path, "must be an object")
	}
	cond, err := conditional.ParseCondition(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	label, err := stringField(obj, "label", path, true)
	if err != nil {
		return nil, err
	}
	value, err := intField(obj, "value", path)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, invalidField(fieldPath(path, "value"), "is required")
	}
	return &conditionalParamOption{
		condition: cond,
		option:    ParamOption{Label: label, Value: *value},
	}, nil
}

// parseParamInformation parses the parameter list. A key may appear several
// times as conditional variants; all but its last definition need "$if".
// Keys keep the order of their first appearance.
func parseParamInformation(raw any, path string) ([]ParamKey, map[ParamKey][]*ConditionalParamInfo, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil, invalidField(path, "must be an array")
	}

	var order []ParamKey
	params := make(map[ParamKey][]*ConditionalParamInfo)
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, nil, invalidField(fmt.Sprintf("%s[%d]", path, i), "must be an object")
		}
		p, err := parseParam(obj, path)
		if err != nil {
			return nil, nil, err
		}
		if _, seen := params[p.Key]; !seen {
			order = append(order, p.Key)
		}
		params[p.Key] = append(params[p.Key], p)
	}

	for _, key := range order {
		variants := params[key]
		for _, p := range variants[:len(variants)-1] {
			if p.condition == nil {
				return nil, nil, invalidField(path, "parameter %s is defined more than once; all but the last definition need %s", key, conditional.ConditionKey)
			}
		}
	}
	return order, params, nil
}
