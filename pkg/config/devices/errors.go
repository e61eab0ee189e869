package devices

import (
	"errors"
	"fmt"
	"math"

	"github.com/backkem/zwave/pkg/config"
)

var (
	// ErrIndexNotLoaded is returned by Manager.Index before LoadIndex.
	ErrIndexNotLoaded = errors.New("devices: index not loaded")

	// ErrManagerClosed is returned by Watch after the manager was closed.
	ErrManagerClosed = errors.New("devices: manager closed")
)

// fieldPath joins the location of a value in a document for errors.
func fieldPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func invalidField(path string, format string, args ...any) error {
	return config.Invalidf("%s: %s", path, fmt.Sprintf(format, args...))
}

func stringField(obj map[string]any, key, path string, required bool) (string, error) {
	raw, ok := obj[key]
	if !ok {
		if required {
			return "", invalidField(fieldPath(path, key), "is required")
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalidField(fieldPath(path, key), "must be a string, got %T", raw)
	}
	return s, nil
}

func boolField(obj map[string]any, key, path string, def bool) (bool, error) {
	raw, ok := obj[key]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, invalidField(fieldPath(path, key), "must be a boolean, got %T", raw)
	}
	return b, nil
}

// toInt converts a JSON number without fractional part.
func toInt(raw any) (int64, bool) {
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// intField reads an optional integer. It returns nil when the key is absent.
func intField(obj map[string]any, key, path string) (*int64, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, nil
	}
	n, ok := toInt(raw)
	if !ok {
		return nil, invalidField(fieldPath(path, key), "must be an integer, got %v", raw)
	}
	return &n, nil
}

func objectField(obj map[string]any, key, path string) (map[string]any, bool, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, false, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false, invalidField(fieldPath(path, key), "must be an object, got %T", raw)
	}
	return m, true, nil
}

func hexIDField(obj map[string]any, key, path string) (uint16, error) {
	s, err := stringField(obj, key, path, true)
	if err != nil {
		return 0, err
	}
	id, err := config.ParseID(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fieldPath(path, key), err)
	}
	return id, nil
}
