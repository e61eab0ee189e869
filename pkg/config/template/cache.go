package template

import (
	"path/filepath"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of template files kept by a Cache.
const DefaultCacheSize = 512

// templatesSegment marks the directories whose files outlive a single
// resolution.
const templatesSegment = "templates"

// Cache keeps parsed template files across resolutions. Template files are
// imported by many documents and rarely change. It is safe for concurrent
// use. Clear it before regenerating an index so changes on disk are seen.
type Cache struct {
	files *lru.Cache[string, any]
}

// NewCache creates a cache for up to size files. A size of 0 selects
// DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	files, err := lru.New[string, any](size)
	if err != nil {
		// only fails for non-positive sizes
		panic(err)
	}
	return &Cache{files: files}
}

// Clear drops every cached file.
func (c *Cache) Clear() {
	c.files.Purge()
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	return c.files.Len()
}

func (c *Cache) get(path string) (any, bool) {
	return c.files.Get(path)
}

func (c *Cache) add(path string, doc any) {
	c.files.Add(path, doc)
}

// isTemplatePath reports whether path lies below a "templates" directory.
func isTemplatePath(path string) bool {
	dir := filepath.ToSlash(filepath.Dir(path))
	return slices.Contains(strings.Split(dir, "/"), templatesSegment)
}
