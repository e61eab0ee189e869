// Package devices parses device configuration files and maintains the
// index used to find the file for a device.
//
// A device file describes one product line of a manufacturer. Most of its
// values may be conditional on the firmware version or the product, so a
// file is parsed into a ConditionalDeviceConfig and evaluated for a
// concrete device into a DeviceConfig.
package devices

import (
	"context"
	"fmt"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/conditional"
	"github.com/backkem/zwave/pkg/config/template"
	"github.com/pion/logging"
)

// Device is a product code a config file registers for.
type Device struct {
	ProductType uint16 `json:"productType"`
	ProductID   uint16 `json:"productId"`
}

// DeviceConfig is a device file evaluated for one device.
type DeviceConfig struct {
	Filename   string `json:"-"`
	IsEmbedded bool   `json:"-"`

	ManufacturerID   uint16                       `json:"manufacturerId"`
	Manufacturer     string                       `json:"manufacturer"`
	Label            string                       `json:"label"`
	Description      string                       `json:"description"`
	Devices          []Device                     `json:"devices"`
	FirmwareVersion  config.FirmwareVersionRange  `json:"firmwareVersion"`
	Preferred        bool                         `json:"preferred,omitempty"`
	Endpoints        map[uint8]*EndpointConfig    `json:"endpoints,omitempty"`
	Associations     map[uint8]*AssociationConfig `json:"associations,omitempty"`
	ParamInformation []*ParamInfo                 `json:"paramInformation,omitempty"`
	Compat           map[string]any               `json:"compat,omitempty"`
	Metadata         *DeviceMetadata              `json:"metadata,omitempty"`
	Proprietary      map[string]any               `json:"proprietary,omitempty"`
}

// Param returns the parameter with the given key.
func (c *DeviceConfig) Param(key ParamKey) (*ParamInfo, bool) {
	for _, p := range c.ParamInformation {
		if p.Key == key {
			return p, true
		}
	}
	return nil, false
}

// ConditionalDeviceConfig is a parsed device file before evaluation. The
// identity fields are never conditional.
type ConditionalDeviceConfig struct {
	Filename   string
	IsEmbedded bool

	ManufacturerID  uint16
	Manufacturer    conditional.Primitive[string]
	Label           conditional.Primitive[string]
	Description     conditional.Primitive[string]
	Devices         []Device
	FirmwareVersion config.FirmwareVersionRange
	Preferred       bool

	endpoints    map[uint8][]*ConditionalEndpointConfig
	associations map[uint8][]*ConditionalAssociationConfig
	paramOrder   []ParamKey
	params       map[ParamKey][]*ConditionalParamInfo
	compat       any
	metadata     *ConditionalDeviceMetadata
	proprietary  any
}

// LoadOptions configures LoadConditionalDeviceConfig.
type LoadOptions struct {
	// IsEmbedded marks files shipped with the library.
	IsEmbedded bool

	// RootDir resolves "~/" imports.
	RootDir string

	// Cache keeps template files between loads.
	Cache *template.Cache

	LoggerFactory logging.LoggerFactory
}

// LoadConditionalDeviceConfig reads a device file, resolves its imports and
// parses it.
func LoadConditionalDeviceConfig(ctx context.Context, filename string, opts LoadOptions) (*ConditionalDeviceConfig, error) {
	doc, err := template.ReadJSONWithTemplate(ctx, filename, template.Options{
		RootDir:       opts.RootDir,
		Cache:         opts.Cache,
		LoggerFactory: opts.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	return ParseConditionalDeviceConfig(filename, opts.IsEmbedded, doc)
}

// ParseConditionalDeviceConfig parses a device document whose imports have
// been resolved.
func ParseConditionalDeviceConfig(filename string, isEmbedded bool, doc map[string]any) (*ConditionalDeviceConfig, error) {
	c, err := parseDeviceConfig(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	c.Filename = filename
	c.IsEmbedded = isEmbedded
	return c, nil
}

func parseDeviceConfig(doc map[string]any) (*ConditionalDeviceConfig, error) {
	c := &ConditionalDeviceConfig{}
	var err error

	if c.ManufacturerID, err = hexIDField(doc, "manufacturerId", ""); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		key string
		dst *conditional.Primitive[string]
	}{
		{"manufacturer", &c.Manufacturer},
		{"label", &c.Label},
		{"description", &c.Description},
	} {
		raw, ok := doc[field.key]
		if !ok {
			return nil, invalidField(field.key, "is required")
		}
		if *field.dst, err = conditional.ParseString(raw, field.key); err != nil {
			return nil, err
		}
	}

	if c.Devices, err = parseDevices(doc["devices"]); err != nil {
		return nil, err
	}
	if c.FirmwareVersion, err = parseFirmwareVersion(doc); err != nil {
		return nil, err
	}
	if c.Preferred, err = boolField(doc, "preferred", "", false); err != nil {
		return nil, err
	}

	if raw, ok := doc["endpoints"]; ok {
		if c.endpoints, err = parseEndpoints(raw, "endpoints"); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["associations"]; ok {
		if c.associations, err = parseAssociations(raw, "associations"); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["paramInformation"]; ok {
		if c.paramOrder, c.params, err = parseParamInformation(raw, "paramInformation"); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["compat"]; ok {
		if c.compat, err = parseCompat(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["metadata"]; ok {
		if c.metadata, err = parseMetadata(raw, "metadata"); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["proprietary"]; ok {
		if _, ok := raw.(map[string]any); !ok {
			return nil, invalidField("proprietary", "must be an object")
		}
		if err := checkConditions(raw, "proprietary"); err != nil {
			return nil, err
		}
		c.proprietary = raw
	}
	return c, nil
}

func parseDevices(raw any) ([]Device, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, invalidField("devices", "must be a non-empty array")
	}
	out := make([]Device, 0, len(list))
	for i, entry := range list {
		path := fmt.Sprintf("devices[%d]", i)
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidField(path, "must be an object")
		}
		productType, err := hexIDField(obj, "productType", path)
		if err != nil {
			return nil, err
		}
		productID, err := hexIDField(obj, "productId", path)
		if err != nil {
			return nil, err
		}
		out = append(out, Device{ProductType: productType, ProductID: productID})
	}
	return out, nil
}

func parseFirmwareVersion(doc map[string]any) (config.FirmwareVersionRange, error) {
	obj, ok, err := objectField(doc, "firmwareVersion", "")
	if err != nil {
		return config.FirmwareVersionRange{}, err
	}
	if !ok {
		return config.FirmwareVersionRange{}, invalidField("firmwareVersion", "is required")
	}
	r := config.FirmwareVersionRange{}
	if r.Min, err = stringField(obj, "min", "firmwareVersion", true); err != nil {
		return r, err
	}
	if r.Max, err = stringField(obj, "max", "firmwareVersion", true); err != nil {
		return r, err
	}
	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("firmwareVersion: %w", err)
	}
	return r, nil
}

// parseCompat accepts an object or a list of conditional objects.
func parseCompat(raw any) (any, error) {
	entries, err := objectOrList(raw, "compat")
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		cond, err := conditional.ParseCondition(entry)
		if err != nil {
			return nil, fmt.Errorf("compat[%d]: %w", i, err)
		}
		if cond == nil && i < len(entries)-1 {
			return nil, invalidField(fmt.Sprintf("compat[%d]", i), "only the last entry may omit %s", conditional.ConditionKey)
		}
	}
	if err := checkConditions(raw, "compat"); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkConditions parses every condition nested in raw so that bad
// conditions fail when a file is loaded rather than when it is evaluated.
func checkConditions(raw any, path string) error {
	if _, _, err := conditional.EvaluateDeep(raw, nil, true); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Evaluate resolves every conditional value for id. A nil id treats all
// conditions as satisfied.
func (c *ConditionalDeviceConfig) Evaluate(id *config.DeviceID) (*DeviceConfig, error) {
	out := &DeviceConfig{
		Filename:        c.Filename,
		IsEmbedded:      c.IsEmbedded,
		ManufacturerID:  c.ManufacturerID,
		Devices:         c.Devices,
		FirmwareVersion: c.FirmwareVersion,
		Preferred:       c.Preferred,
	}
	out.Manufacturer, _ = c.Manufacturer.Evaluate(id)
	out.Label, _ = c.Label.Evaluate(id)
	out.Description, _ = c.Description.Evaluate(id)

	var err error
	if c.endpoints != nil {
		if out.Endpoints, err = conditional.Map[uint8, *EndpointConfig](c.endpoints, id); err != nil {
			return nil, c.wrap(err)
		}
	}
	if c.associations != nil {
		if out.Associations, err = conditional.Map[uint8, *AssociationConfig](c.associations, id); err != nil {
			return nil, c.wrap(err)
		}
	}

	for _, key := range c.paramOrder {
		p, ok, err := conditional.First[*ParamInfo](c.params[key], id)
		if err != nil {
			return nil, c.wrap(err)
		}
		if ok {
			out.ParamInformation = append(out.ParamInformation, p)
		}
	}

	if c.compat != nil {
		compat, ok, err := evaluateCompat(c.compat, id)
		if err != nil {
			return nil, c.wrap(err)
		}
		if ok {
			out.Compat = compat
		}
	}
	if c.metadata != nil {
		if out.Metadata, err = c.metadata.Evaluate(id); err != nil {
			return nil, c.wrap(err)
		}
	}
	if c.proprietary != nil {
		v, ok, err := conditional.EvaluateDeep(c.proprietary, id, false)
		if err != nil {
			return nil, c.wrap(err)
		}
		if m, isMap := v.(map[string]any); ok && isMap {
			out.Proprietary = m
		}
	}
	return out, nil
}

func (c *ConditionalDeviceConfig) wrap(err error) error {
	return fmt.Errorf("%s: %w", c.Filename, err)
}

// evaluateCompat picks the first applicable compat object and resolves
// conditions inside it.
func evaluateCompat(raw any, id *config.DeviceID) (map[string]any, bool, error) {
	entries, _ := objectOrList(raw, "compat")
	for _, entry := range entries {
		v, ok, err := conditional.EvaluateDeep(entry, id, false)
		if err != nil {
			return nil, false, err
		}
		if m, isMap := v.(map[string]any); ok && isMap {
			return m, true, nil
		}
	}
	return nil, false, nil
}
