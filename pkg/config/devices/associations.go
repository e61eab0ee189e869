package devices

import (
	"fmt"
	"strconv"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/conditional"
	"github.com/backkem/zwave/pkg/config/logic"
)

// AssociationConfig describes an association group.
type AssociationConfig struct {
	GroupID    uint8  `json:"-"`
	Label      string `json:"label"`
	MaxNodes   int    `json:"maxNodes"`
	IsLifeline bool   `json:"isLifeline,omitempty"`

	// MultiChannel is "auto", "true" or "false".
	MultiChannel string `json:"multiChannel,omitempty"`
}

// ConditionalAssociationConfig is an association group before evaluation.
type ConditionalAssociationConfig struct {
	condition *logic.Expression
	assoc     AssociationConfig
}

// Condition implements conditional.Item.
func (a *ConditionalAssociationConfig) Condition() *logic.Expression { return a.condition }

// Evaluate implements conditional.Item.
func (a *ConditionalAssociationConfig) Evaluate(*config.DeviceID) (*AssociationConfig, error) {
	c := a.assoc
	return &c, nil
}

// EndpointConfig describes an endpoint of a multi channel device.
type EndpointConfig struct {
	Index        uint8                        `json:"-"`
	Label        string                       `json:"label,omitempty"`
	Associations map[uint8]*AssociationConfig `json:"associations,omitempty"`
}

// ConditionalEndpointConfig is an endpoint before evaluation.
type ConditionalEndpointConfig struct {
	Index        uint8
	condition    *logic.Expression
	Label        conditional.Primitive[string]
	associations map[uint8][]*ConditionalAssociationConfig
}

// Condition implements conditional.Item.
func (e *ConditionalEndpointConfig) Condition() *logic.Expression { return e.condition }

// Evaluate implements conditional.Item.
func (e *ConditionalEndpointConfig) Evaluate(id *config.DeviceID) (*EndpointConfig, error) {
	label, _ := e.Label.Evaluate(id)
	assocs, err := conditional.Map[uint8, *AssociationConfig](e.associations, id)
	if err != nil {
		return nil, err
	}
	if len(assocs) == 0 {
		assocs = nil
	}
	return &EndpointConfig{Index: e.Index, Label: label, Associations: assocs}, nil
}

// parseUint8Key parses the decimal object keys used for group and endpoint
// numbers.
func parseUint8Key(key, path string, minimum uint64) (uint8, error) {
	n, err := strconv.ParseUint(key, 10, 8)
	if err != nil || n < minimum {
		return 0, invalidField(path, "invalid key %q", key)
	}
	return uint8(n), nil
}

// objectOrList returns the objects of a value that is one object or an
// array of conditional objects.
func objectOrList(raw any, path string) ([]map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		out := make([]map[string]any, len(v))
		for i, entry := range v {
			obj, ok := entry.(map[string]any)
			if !ok {
				return nil, invalidField(fmt.Sprintf("%s[%d]", path, i), "must be an object")
			}
			out[i] = obj
		}
		return out, nil
	default:
		return nil, invalidField(path, "must be an object or an array of objects")
	}
}

func parseAssociations(raw any, path string) (map[uint8][]*ConditionalAssociationConfig, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidField(path, "must be an object")
	}

	out := make(map[uint8][]*ConditionalAssociationConfig, len(obj))
	for key, value := range obj {
		groupPath := fieldPath(path, key)
		groupID, err := parseUint8Key(key, groupPath, 1)
		if err != nil {
			return nil, err
		}
		entries, err := objectOrList(value, groupPath)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			a, err := parseAssociation(entry, groupID, groupPath)
			if err != nil {
				return nil, err
			}
			out[groupID] = append(out[groupID], a)
		}
	}
	return out, nil
}

func parseAssociation(obj map[string]any, groupID uint8, path string) (*ConditionalAssociationConfig, error) {
	cond, err := conditional.ParseCondition(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	label, err := stringField(obj, "label", path, true)
	if err != nil {
		return nil, err
	}
	maxNodes, err := intField(obj, "maxNodes", path)
	if err != nil {
		return nil, err
	}
	if maxNodes == nil || *maxNodes < 1 {
		return nil, invalidField(fieldPath(path, "maxNodes"), "must be a positive integer")
	}
	lifeline, err := boolField(obj, "isLifeline", path, false)
	if err != nil {
		return nil, err
	}

	multiChannel := ""
	switch v := obj["multiChannel"].(type) {
	case nil:
	case bool:
		multiChannel = strconv.FormatBool(v)
	case string:
		if v != "auto" {
			return nil, invalidField(fieldPath(path, "multiChannel"), "must be a boolean or \"auto\"")
		}
		multiChannel = v
	default:
		return nil, invalidField(fieldPath(path, "multiChannel"), "must be a boolean or \"auto\"")
	}

	return &ConditionalAssociationConfig{
		condition: cond,
		assoc: AssociationConfig{
			GroupID:      groupID,
			Label:        label,
			MaxNodes:     int(*maxNodes),
			IsLifeline:   lifeline,
			MultiChannel: multiChannel,
		},
	}, nil
}

func parseEndpoints(raw any, path string) (map[uint8][]*ConditionalEndpointConfig, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidField(path, "must be an object")
	}

	out := make(map[uint8][]*ConditionalEndpointConfig, len(obj))
	for key, value := range obj {
		epPath := fieldPath(path, key)
		index, err := parseUint8Key(key, epPath, 0)
		if err != nil {
			return nil, err
		}
		entries, err := objectOrList(value, epPath)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			ep := &ConditionalEndpointConfig{Index: index}
			if ep.condition, err = conditional.ParseCondition(entry); err != nil {
				return nil, fmt.Errorf("%s: %w", epPath, err)
			}
			if rawLabel, ok := entry["label"]; ok {
				if ep.Label, err = conditional.ParseString(rawLabel, fieldPath(epPath, "label")); err != nil {
					return nil, err
				}
			}
			if rawAssocs, ok := entry["associations"]; ok {
				if ep.associations, err = parseAssociations(rawAssocs, fieldPath(epPath, "associations")); err != nil {
					return nil, err
				}
			}
			out[index] = append(out[index], ep)
		}
	}
	return out, nil
}
