package template

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/backkem/zwave/pkg/config"
)

// writeFiles creates files below dir, keyed by slash-separated path.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func mustJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestImportWithSelector(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"doc.json":   `{"a": {"$import": "other.json#foo"}}`,
		"other.json": `{"foo": {"x": 1}}`,
	})

	got, err := ReadJSONWithTemplate(context.Background(), filepath.Join(dir, "doc.json"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if want := mustJSON(t, `{"a": {"x": 1}}`); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestImportRules(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"templates/master.json": `{
			// JSON5 comments and trailing commas are allowed
			"base": {"unit": "s", "min": 0, "max": 10,},
			"params": [
				{"#": "1", "label": "One"},
				{"#": "2", "label": "Two", "nested": {"$import": "#base"}},
			],
		}`,
		"vendor/device.json": `{
			"paramInformation": [
				{"$import": "~/templates/master.json#params/#2", "max": 20},
				{"$import": "../templates/master.json#base", "label": "Relative"}
			],
			"list": [1, "two", null]
		}`,
	})

	got, err := ReadJSONWithTemplate(context.Background(), filepath.Join(dir, "vendor", "device.json"), Options{RootDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	want := mustJSON(t, `{
		"paramInformation": [
			{"label": "Two", "nested": {"unit": "s", "min": 0, "max": 10}, "max": 20},
			{"unit": "s", "min": 0, "max": 10, "label": "Relative"}
		],
		"list": [1, "two", null]
	}`)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v\nwant %v", got, want)
	}
}

func TestCircularImport(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.json": `{"x": {"$import": "b.json"}}`,
		"b.json": `{"y": {"$import": "a.json"}}`,
	})

	_, err := ReadJSONWithTemplate(context.Background(), filepath.Join(dir, "a.json"), Options{})
	if !errors.Is(err, config.ErrCircularImport) {
		t.Fatalf("got %v, want ErrCircularImport", err)
	}
	var cycle *CircularImportError
	if !errors.As(err, &cycle) {
		t.Fatalf("got %T, want *CircularImportError", err)
	}
	if len(cycle.Stack) != 3 {
		t.Fatalf("stack = %v", cycle.Stack)
	}
	for i, name := range []string{"a.json", "b.json", "a.json"} {
		if !strings.HasSuffix(cycle.Stack[i], name) {
			t.Errorf("stack[%d] = %s, want %s", i, cycle.Stack[i], name)
		}
	}
}

func TestSelfImportWithSelector(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.json": `{"foo": {"$import": "#foo"}}`,
	})
	_, err := ReadJSONWithTemplate(context.Background(), filepath.Join(dir, "a.json"), Options{})
	if !errors.Is(err, config.ErrCircularImport) {
		t.Fatalf("got %v, want ErrCircularImport", err)
	}
}

func TestImportErrors(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"root/missing.json":  `{"a": {"$import": "nope.json"}}`,
		"root/selector.json": `{"a": {"$import": "other.json#bar"}}`,
		"root/tag.json":      `{"a": {"$import": "other.json#list/#3"}}`,
		"root/other.json":    `{"foo": 1, "list": [{"#": "1"}]}`,
		"root/escape.json":   `{"a": {"$import": "../outside.json"}}`,
		"root/home.json":     `{"a": {"$import": "~/other.json#foo"}}`,
		"root/scalar.json":   `{"a": {"$import": "other.json#foo"}}`,
		"root/broken.json":   `{"a": `,
		"root/badspec.json":  `{"a": {"$import": 5}}`,
		"outside.json":       `{}`,
	})
	root := filepath.Join(dir, "root")

	tests := []struct {
		file string
		opts Options
		want error
	}{
		{"missing.json", Options{}, config.ErrNotFound},
		{"selector.json", Options{}, config.ErrNotFound},
		{"tag.json", Options{}, config.ErrNotFound},
		{"escape.json", Options{RootDir: root}, config.ErrInvalid},
		{"home.json", Options{}, config.ErrInvalid},
		{"scalar.json", Options{}, config.ErrInvalid},
		{"broken.json", Options{}, config.ErrInvalid},
		{"badspec.json", Options{}, config.ErrInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			_, err := ReadJSONWithTemplate(context.Background(), filepath.Join(root, tc.file), tc.opts)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	// without a root, parent directories are allowed
	if _, err := ReadJSONWithTemplate(context.Background(), filepath.Join(root, "escape.json"), Options{}); err != nil {
		t.Errorf("escape without root: %v", err)
	}
}

func TestTemplateCache(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"templates/t.json": `{"v": {"n": 1}}`,
		"other.json":       `{"v": {"n": 1}}`,
		"doc.json":         `{"a": {"$import": "templates/t.json#v"}, "b": {"$import": "other.json#v"}}`,
	})
	cache := NewCache(0)
	opts := Options{RootDir: dir, Cache: cache}
	doc := filepath.Join(dir, "doc.json")

	if _, err := ReadJSONWithTemplate(context.Background(), doc, opts); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d files, want only the template", cache.Len())
	}

	writeFiles(t, dir, map[string]string{"templates/t.json": `{"v": {"n": 2}}`})
	got, err := ReadJSONWithTemplate(context.Background(), doc, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"].(map[string]any)["n"] != 1.0 {
		t.Errorf("cached template not used: %v", got["a"])
	}

	cache.Clear()
	got, err = ReadJSONWithTemplate(context.Background(), doc, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"].(map[string]any)["n"] != 2.0 {
		t.Errorf("template not re-read after Clear: %v", got["a"])
	}
}

func TestCanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.json": `{}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadJSONWithTemplate(ctx, filepath.Join(dir, "a.json"), Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
