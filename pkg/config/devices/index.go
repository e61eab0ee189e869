package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/template"
	"github.com/facebookgo/atomicfile"
	"github.com/pion/logging"
	"github.com/titanous/json5"
)

// Index file names inside a devices directory.
const (
	IndexFilename         = "index.json"
	FulltextIndexFilename = "fulltext_index.json"
)

const indexHeader = "// This file is auto-generated. Do not edit it by hand, it is regenerated\n" +
	"// whenever a device file in this directory changes.\n"

// IndexEntry maps a product to the file describing it.
type IndexEntry struct {
	ManufacturerID  string                      `json:"manufacturerId"`
	ProductType     string                      `json:"productType"`
	ProductID       string                      `json:"productId"`
	FirmwareVersion config.FirmwareVersionRange `json:"firmwareVersion"`
	Preferred       bool                        `json:"preferred,omitempty"`

	// RootDir is set for files outside of the embedded directory.
	RootDir string `json:"rootDir,omitempty"`

	// Filename is relative to the directory that was indexed.
	Filename string `json:"filename"`
}

// Matches reports whether the entry applies to id. A device without a
// known firmware version matches any range.
func (e IndexEntry) Matches(id config.DeviceID) bool {
	return e.ManufacturerID == config.FormatID(id.ManufacturerID) &&
		e.ProductType == config.FormatID(id.ProductType) &&
		e.ProductID == config.FormatID(id.ProductID) &&
		e.FirmwareVersion.Contains(id.FirmwareVersion)
}

func (e IndexEntry) filename() string { return e.Filename }

// FulltextIndexEntry adds the descriptive fields used for searching.
type FulltextIndexEntry struct {
	IndexEntry
	Manufacturer string `json:"manufacturer"`
	Label        string `json:"label"`
	Description  string `json:"description"`
}

// IndexOptions configures index generation and loading.
type IndexOptions struct {
	// Embedded marks the directory shipped with the library. Entries of
	// other directories carry RootDir.
	Embedded bool

	// Strict aborts generation on the first bad file. Otherwise bad files
	// are logged and skipped.
	Strict bool

	// Cache keeps template files during generation. It is cleared before
	// every generation.
	Cache *template.Cache

	LoggerFactory logging.LoggerFactory
}

// StrictFromEnv reports whether the CI environment variable requests
// strict index generation.
func StrictFromEnv() bool {
	switch strings.ToLower(os.Getenv("CI")) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

type indexer struct {
	dir  string
	opts IndexOptions
	log  logging.LeveledLogger
}

func newIndexer(dir string, opts IndexOptions) *indexer {
	ix := &indexer{dir: dir, opts: opts}
	if opts.LoggerFactory != nil {
		ix.log = opts.LoggerFactory.NewLogger("devices")
	}
	return ix
}

// walk parses every device file below the directory and calls fn for each.
func (ix *indexer) walk(ctx context.Context, fn func(rel string, c *DeviceConfig)) error {
	if ix.opts.Cache != nil {
		ix.opts.Cache.Clear()
	}

	var files []string
	err := filepath.WalkDir(ix.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != ix.dir && d.Name() == "templates" {
				return filepath.SkipDir
			}
			return nil
		}
		if isDeviceFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("devices: scanning %s: %w", ix.dir, err)
	}
	slices.Sort(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(ix.dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		c, err := ix.load(ctx, path)
		if err != nil {
			if ix.opts.Strict || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if ix.log != nil {
				ix.log.Errorf("skipping device file %s: %v", rel, err)
			}
			continue
		}
		fn(rel, c)
	}
	return nil
}

// load reads a file and evaluates it without a device, so every
// conditional variant applies.
func (ix *indexer) load(ctx context.Context, path string) (*DeviceConfig, error) {
	cc, err := LoadConditionalDeviceConfig(ctx, path, LoadOptions{
		IsEmbedded:    ix.opts.Embedded,
		RootDir:       ix.dir,
		Cache:         ix.opts.Cache,
		LoggerFactory: ix.opts.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	return cc.Evaluate(nil)
}

func (ix *indexer) entries(rel string, c *DeviceConfig) []IndexEntry {
	out := make([]IndexEntry, 0, len(c.Devices))
	for _, d := range c.Devices {
		e := IndexEntry{
			ManufacturerID:  config.FormatID(c.ManufacturerID),
			ProductType:     config.FormatID(d.ProductType),
			ProductID:       config.FormatID(d.ProductID),
			FirmwareVersion: c.FirmwareVersion,
			Preferred:       c.Preferred,
			Filename:        rel,
		}
		if !ix.opts.Embedded {
			e.RootDir = ix.dir
		}
		out = append(out, e)
	}
	return out
}

func isDeviceFile(name string) bool {
	return strings.HasSuffix(name, ".json") && name != IndexFilename && name != FulltextIndexFilename
}

// GenerateIndex parses every device file below dir and returns one entry
// per product code. Files in "templates" directories are skipped.
func GenerateIndex(ctx context.Context, dir string, opts IndexOptions) ([]IndexEntry, error) {
	ix := newIndexer(dir, opts)
	index := []IndexEntry{}
	err := ix.walk(ctx, func(rel string, c *DeviceConfig) {
		index = append(index, ix.entries(rel, c)...)
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// GenerateFulltextIndex is like GenerateIndex but also records the
// descriptive fields of each file.
func GenerateFulltextIndex(ctx context.Context, dir string, opts IndexOptions) ([]FulltextIndexEntry, error) {
	ix := newIndexer(dir, opts)
	index := []FulltextIndexEntry{}
	err := ix.walk(ctx, func(rel string, c *DeviceConfig) {
		for _, e := range ix.entries(rel, c) {
			index = append(index, FulltextIndexEntry{
				IndexEntry:   e,
				Manufacturer: c.Manufacturer,
				Label:        c.Label,
				Description:  c.Description,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// GeneratePriorityIndex indexes a directory of user supplied files that
// take precedence over the embedded ones. The index is not written to disk.
func GeneratePriorityIndex(ctx context.Context, dir string, opts IndexOptions) ([]IndexEntry, error) {
	opts.Embedded = false
	index, err := GenerateIndex(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	ix := newIndexer(dir, opts)
	if ix.log != nil {
		ix.log.Debugf("indexed %d priority device entries in %s", len(index), dir)
	}
	return index, nil
}

// LoadIndex returns the index of dir, regenerating index.json when it is
// missing, unreadable or older than any file below dir.
func LoadIndex(ctx context.Context, dir string, opts IndexOptions) ([]IndexEntry, error) {
	return loadIndex(ctx, dir, IndexFilename, opts, GenerateIndex)
}

// LoadFulltextIndex is LoadIndex for fulltext_index.json.
func LoadFulltextIndex(ctx context.Context, dir string, opts IndexOptions) ([]FulltextIndexEntry, error) {
	return loadIndex(ctx, dir, FulltextIndexFilename, opts, GenerateFulltextIndex)
}

// indexRow is implemented by IndexEntry and, through embedding,
// FulltextIndexEntry.
type indexRow interface {
	filename() string
}

func loadIndex[E indexRow](ctx context.Context, dir, name string, opts IndexOptions,
	generate func(context.Context, string, IndexOptions) ([]E, error)) ([]E, error) {
	ix := newIndexer(dir, opts)
	path := filepath.Join(dir, name)

	index, err := readIndex[E](path)
	if err == nil {
		stale, err := needsRegeneration(dir, path)
		if err != nil {
			return nil, err
		}
		missing, gone := missingFile(dir, index)
		if !stale && !gone {
			return index, nil
		}
		if ix.log != nil {
			if gone {
				ix.log.Infof("%s lists the missing file %s, regenerating", name, missing)
			} else {
				ix.log.Infof("%s is outdated, regenerating", name)
			}
		}
	} else if ix.log != nil {
		ix.log.Infof("regenerating %s: %v", name, err)
	}

	index, err = generate(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	if err := writeIndex(path, index); err != nil {
		// a read-only directory still gets a usable in-memory index
		if ix.log != nil {
			ix.log.Warnf("could not write %s: %v", path, err)
		}
	}
	return index, nil
}

func readIndex[E any](path string) ([]E, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, config.NotFoundf("%s does not exist", path)
		}
		return nil, err
	}
	var index []E
	if err := json5.Unmarshal(data, &index); err != nil {
		return nil, config.Invalidf("%s: %v", path, err)
	}
	return index, nil
}

// writeIndex replaces the index file in one step.
func writeIndex[E any](path string, index []E) error {
	var buf bytes.Buffer
	buf.WriteString(indexHeader)
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(index); err != nil {
		return err
	}

	f, err := atomicfile.New(path, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Abort()
		return err
	}
	return f.Close()
}

// needsRegeneration reports whether anything below dir, other than the
// index files, was modified after the index. Directories count too, so
// renamed and deleted files are noticed. The mtime of dir itself is
// ignored because writing an index changes it.
func needsRegeneration(dir, indexPath string) (bool, error) {
	info, err := os.Stat(indexPath)
	if err != nil {
		return true, nil
	}
	indexTime := info.ModTime()

	newer, err := newestModTime(dir)
	if err != nil {
		return false, fmt.Errorf("devices: scanning %s: %w", dir, err)
	}
	return newer.After(indexTime), nil
}

func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir || isIndexFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

// isIndexFile matches the index files and the temporary files they are
// written through.
func isIndexFile(name string) bool {
	return strings.HasPrefix(name, IndexFilename) || strings.HasPrefix(name, FulltextIndexFilename)
}

// missingFile returns the first indexed file that no longer exists.
func missingFile[E indexRow](dir string, index []E) (string, bool) {
	for _, e := range index {
		name := e.filename()
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return name, true
		}
	}
	return "", false
}

// FindIndexEntry returns the entry for id. Preferred entries win over list
// order.
func FindIndexEntry(index []IndexEntry, id config.DeviceID) (IndexEntry, bool) {
	for _, e := range index {
		if e.Preferred && e.Matches(id) {
			return e, true
		}
	}
	for _, e := range index {
		if e.Matches(id) {
			return e, true
		}
	}
	return IndexEntry{}, false
}
