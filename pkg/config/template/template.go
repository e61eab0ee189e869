// Package template reads JSON5 config documents and resolves their
// "$import" directives.
//
// An object of the form
//
//	{ "$import": "templates/master.json#base_0-99/#2", "label": "Override" }
//
// is replaced with the referenced value, and the remaining local keys are
// applied on top of it. The part after '#' is a '/'-separated path of
// property names. A path part of the form "#<n>" selects the array element
// whose "#" property equals n and strips that property.
//
// Import paths are relative to the importing file unless they start with
// "~/", in which case they are relative to Options.RootDir.
package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/backkem/zwave/pkg/config"
	"github.com/pion/logging"
	"github.com/titanous/json5"
)

// ImportKey is the object key of an import directive.
const ImportKey = "$import"

const (
	rootPrefix     = "~/"
	selectorPrefix = "#"
	tagKey         = "#"
)

var tagSelectorRegex = regexp.MustCompile(`^#(\d+)$`)

// Options configures a resolution.
type Options struct {
	// RootDir resolves "~/" imports and bounds all resolved paths.
	// Imports with "~/" fail when empty.
	RootDir string

	// Cache keeps template files between resolutions. Template files are
	// only cached for the duration of one call when nil.
	Cache *Cache

	// LoggerFactory creates the "template" logger. Logging is disabled when
	// nil.
	LoggerFactory logging.LoggerFactory
}

// CircularImportError reports an import cycle. Stack lists every visited
// specifier, ending with the one seen twice.
type CircularImportError struct {
	Stack []string
}

func (e *CircularImportError) Error() string {
	return fmt.Sprintf("%v: %s", config.ErrCircularImport, strings.Join(e.Stack, " -> "))
}

// Is makes errors.Is(err, config.ErrCircularImport) hold.
func (e *CircularImportError) Is(target error) bool {
	return target == config.ErrCircularImport
}

type resolver struct {
	root  string
	cache *Cache
	log   logging.LeveledLogger

	// files parsed during this resolution
	files map[string]any
}

// ReadJSONWithTemplate reads filename and resolves all imports in it. The
// document must be an object.
func ReadJSONWithTemplate(ctx context.Context, filename string, opts Options) (map[string]any, error) {
	r := &resolver{
		cache: opts.Cache,
		files: make(map[string]any),
	}
	if opts.RootDir != "" {
		root, err := filepath.Abs(opts.RootDir)
		if err != nil {
			return nil, fmt.Errorf("template: resolving root directory: %w", err)
		}
		r.root = root
	}
	if opts.LoggerFactory != nil {
		r.log = opts.LoggerFactory.NewLogger("template")
	}

	path, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("template: resolving %s: %w", filename, err)
	}
	doc, err := r.resolveFile(ctx, path, "", nil)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, config.Invalidf("%s: document must be an object", filename)
	}
	return obj, nil
}

func (r *resolver) resolveFile(ctx context.Context, path, selector string, stack []string) (any, error) {
	specifier := path
	if selector != "" {
		specifier += selectorPrefix + selector
	}
	for _, visited := range stack {
		if visited == specifier {
			cycle := append(append([]string(nil), stack...), specifier)
			return nil, &CircularImportError{Stack: cycle}
		}
	}
	stack = append(stack, specifier)

	doc, err := r.readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if selector != "" {
		doc, err = selectValue(doc, selector)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", specifier, err)
		}
	}
	return r.resolveValue(ctx, doc, path, stack)
}

func (r *resolver) readFile(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc, ok := r.files[path]; ok {
		return doc, nil
	}
	cacheable := r.cache != nil && isTemplatePath(path)
	if cacheable {
		if doc, ok := r.cache.get(path); ok {
			r.files[path] = doc
			return doc, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, config.NotFoundf("%s does not exist", path)
		}
		return nil, fmt.Errorf("template: reading %s: %w", path, err)
	}
	var doc any
	if err := json5.Unmarshal(data, &doc); err != nil {
		return nil, config.Invalidf("%s: %v", path, err)
	}
	if r.log != nil {
		r.log.Tracef("parsed %s", path)
	}

	r.files[path] = doc
	if cacheable {
		r.cache.add(path, doc)
	}
	return doc, nil
}

// resolveValue returns a copy of v, taken from file, with all imports
// resolved. Parsed documents are shared with the caches and never modified.
func (r *resolver) resolveValue(ctx context.Context, v any, file string, stack []string) (any, error) {
	switch v := v.(type) {
	case map[string]any:
		if specifier, ok := v[ImportKey]; ok {
			return r.resolveImport(ctx, v, specifier, file, stack)
		}
		out := make(map[string]any, len(v))
		for key, child := range v {
			resolved, err := r.resolveValue(ctx, child, file, stack)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := r.resolveValue(ctx, child, file, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}

func (r *resolver) resolveImport(ctx context.Context, obj map[string]any, rawImport any, from string, stack []string) (any, error) {
	specifier, ok := rawImport.(string)
	if !ok || specifier == "" {
		return nil, config.Invalidf("%s: %s must be a non-empty string", stack[len(stack)-1], ImportKey)
	}
	file, selector, _ := strings.Cut(specifier, selectorPrefix)

	path, err := r.importPath(file, from)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stack[len(stack)-1], err)
	}
	if r.log != nil {
		r.log.Tracef("importing %s", specifier)
	}

	imported, err := r.resolveFile(ctx, path, selector, stack)
	if err != nil {
		return nil, err
	}
	base, ok := imported.(map[string]any)
	if !ok {
		return nil, config.Invalidf("%s: import %q must resolve to an object", stack[len(stack)-1], specifier)
	}

	out := make(map[string]any, len(base)+len(obj))
	for key, value := range base {
		out[key] = value
	}
	for key, child := range obj {
		if key == ImportKey {
			continue
		}
		resolved, err := r.resolveValue(ctx, child, from, stack)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

// importPath resolves the file part of an import against the importing
// file or the root, and rejects paths leaving the root. An empty file part
// refers to the importing file itself.
func (r *resolver) importPath(file, from string) (string, error) {
	if file == "" {
		return from, nil
	}

	var path string
	if rest, ok := strings.CutPrefix(file, rootPrefix); ok {
		if r.root == "" {
			return "", config.Invalidf("import %q needs a root directory", file)
		}
		path = filepath.Join(r.root, rest)
	} else {
		path = filepath.Join(filepath.Dir(from), file)
	}

	if r.root != "" {
		rel, err := filepath.Rel(r.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", config.Invalidf("import %q resolves outside of the root directory", file)
		}
	}
	return path, nil
}

// selectValue walks a '/'-separated selector through doc.
func selectValue(doc any, selector string) (any, error) {
	cur := doc
	for _, part := range strings.Split(selector, "/") {
		if m := tagSelectorRegex.FindStringSubmatch(part); m != nil {
			next, err := selectTagged(cur, m[1])
			if err != nil {
				return nil, err
			}
			cur = next
			continue
		}

		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, config.NotFoundf("selector %q: %q is not an object property", selector, part)
		}
		next, ok := obj[part]
		if !ok {
			return nil, config.NotFoundf("selector %q: property %q does not exist", selector, part)
		}
		cur = next
	}
	return cur, nil
}

// selectTagged returns the element of an array whose "#" property equals
// tag, without that property.
func selectTagged(v any, tag string) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, config.NotFoundf("selector #%s applied to a non-array", tag)
	}
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok || fmt.Sprint(obj[tagKey]) != tag {
			continue
		}
		out := make(map[string]any, len(obj)-1)
		for key, value := range obj {
			if key != tagKey {
				out[key] = value
			}
		}
		return out, nil
	}
	return nil, config.NotFoundf("no array element tagged #%s", tag)
}
