package devices

import (
	"fmt"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/conditional"
	"github.com/backkem/zwave/pkg/config/logic"
)

// Comment levels of device comments.
const (
	CommentInfo    = "info"
	CommentWarning = "warning"
	CommentError   = "error"
)

// DeviceComment is a note shown to users of a device.
type DeviceComment struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type conditionalComment struct {
	condition *logic.Expression
	comment   DeviceComment
}

func (c *conditionalComment) Condition() *logic.Expression { return c.condition }

func (c *conditionalComment) Evaluate(*config.DeviceID) (DeviceComment, error) {
	return c.comment, nil
}

// DeviceMetadata holds the user-facing instructions of a device.
type DeviceMetadata struct {
	Wakeup    string          `json:"wakeup,omitempty"`
	Inclusion string          `json:"inclusion,omitempty"`
	Exclusion string          `json:"exclusion,omitempty"`
	Reset     string          `json:"reset,omitempty"`
	Manual    string          `json:"manual,omitempty"`
	Comments  []DeviceComment `json:"comments,omitempty"`
}

// ConditionalDeviceMetadata is the metadata before evaluation.
type ConditionalDeviceMetadata struct {
	Wakeup    conditional.Primitive[string]
	Inclusion conditional.Primitive[string]
	Exclusion conditional.Primitive[string]
	Reset     conditional.Primitive[string]
	Manual    conditional.Primitive[string]
	comments  []*conditionalComment
}

// Evaluate resolves the metadata for id. Every applicable comment is kept.
func (m *ConditionalDeviceMetadata) Evaluate(id *config.DeviceID) (*DeviceMetadata, error) {
	out := &DeviceMetadata{}
	out.Wakeup, _ = m.Wakeup.Evaluate(id)
	out.Inclusion, _ = m.Inclusion.Evaluate(id)
	out.Exclusion, _ = m.Exclusion.Evaluate(id)
	out.Reset, _ = m.Reset.Evaluate(id)
	out.Manual, _ = m.Manual.Evaluate(id)

	comments, err := conditional.All[DeviceComment](m.comments, id)
	if err != nil {
		return nil, err
	}
	out.Comments = comments
	return out, nil
}

func parseMetadata(raw any, path string) (*ConditionalDeviceMetadata, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidField(path, "must be an object")
	}

	m := &ConditionalDeviceMetadata{}
	for _, field := range []struct {
		key string
		dst *conditional.Primitive[string]
	}{
		{"wakeup", &m.Wakeup},
		{"inclusion", &m.Inclusion},
		{"exclusion", &m.Exclusion},
		{"reset", &m.Reset},
		{"manual", &m.Manual},
	} {
		rawValue, ok := obj[field.key]
		if !ok {
			continue
		}
		v, err := conditional.ParseString(rawValue, fieldPath(path, field.key))
		if err != nil {
			return nil, err
		}
		*field.dst = v
	}

	if rawComments, ok := obj["comments"]; ok {
		entries, err := objectOrList(rawComments, fieldPath(path, "comments"))
		if err != nil {
			return nil, err
		}
		for i, entry := range entries {
			c, err := parseComment(entry, fmt.Sprintf("%s.comments[%d]", path, i))
			if err != nil {
				return nil, err
			}
			m.comments = append(m.comments, c)
		}
	}
	return m, nil
}

func parseComment(obj map[string]any, path string) (*conditionalComment, error) {
	cond, err := conditional.ParseCondition(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	level, err := stringField(obj, "level", path, true)
	if err != nil {
		return nil, err
	}
	switch level {
	case CommentInfo, CommentWarning, CommentError:
	default:
		return nil, invalidField(fieldPath(path, "level"), "must be %q, %q or %q", CommentInfo, CommentWarning, CommentError)
	}
	text, err := stringField(obj, "text", path, true)
	if err != nil {
		return nil, err
	}
	return &conditionalComment{condition: cond, comment: DeviceComment{Level: level, Text: text}}, nil
}
