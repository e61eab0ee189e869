package devices

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/logic"
	"github.com/backkem/zwave/pkg/config/template"
	"github.com/pion/logging"
)

// ManagerConfig configures a device config Manager.
type ManagerConfig struct {
	// DevicesDir is the embedded devices directory.
	DevicesDir string

	// PriorityDir optionally holds user files that take precedence over
	// the embedded ones.
	PriorityDir string

	// Strict aborts index generation on the first bad file.
	// Default: false, see StrictFromEnv.
	Strict bool

	// TemplateCacheSize is the number of template files kept in memory.
	// Default: template.DefaultCacheSize
	TemplateCacheSize int

	// LoggerFactory creates the "devices" logger. Logging is disabled when
	// nil.
	LoggerFactory logging.LoggerFactory
}

// Manager looks up device configs through the device index. Indexes are
// loaded lazily and dropped when the files change. It is safe for
// concurrent use.
type Manager struct {
	config ManagerConfig
	cache  *template.Cache
	log    logging.LeveledLogger

	mu       sync.Mutex
	index    []IndexEntry
	priority []IndexEntry
	fulltext []FulltextIndexEntry
	loaded   bool
	closed   bool
}

// NewManager creates a device config manager.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config: config,
		cache:  template.NewCache(config.TemplateCacheSize),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("devices")
	}
	return m
}

func (m *Manager) indexOptions(embedded bool) IndexOptions {
	return IndexOptions{
		Embedded:      embedded,
		Strict:        m.config.Strict,
		Cache:         m.cache,
		LoggerFactory: m.config.LoggerFactory,
	}
}

// LoadIndex loads the embedded index and the priority index. A failing
// priority directory is logged and ignored unless the manager is strict.
func (m *Manager) LoadIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadIndex(ctx)
}

func (m *Manager) loadIndex(ctx context.Context) error {
	if m.loaded {
		return nil
	}

	index, err := LoadIndex(ctx, m.config.DevicesDir, m.indexOptions(true))
	if err != nil {
		return err
	}

	var priority []IndexEntry
	if m.config.PriorityDir != "" {
		priority, err = GeneratePriorityIndex(ctx, m.config.PriorityDir, m.indexOptions(false))
		if err != nil {
			if m.config.Strict {
				return err
			}
			if m.log != nil {
				m.log.Warnf("ignoring priority device configs in %s: %v", m.config.PriorityDir, err)
			}
			priority = nil
		}
	}

	m.index = index
	m.priority = priority
	m.loaded = true
	if m.log != nil {
		m.log.Debugf("loaded device index with %d entries, %d priority entries", len(index), len(priority))
	}
	return nil
}

// Index returns the loaded index with priority entries first.
func (m *Manager) Index() ([]IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil, ErrIndexNotLoaded
	}
	return m.combinedIndex(), nil
}

func (m *Manager) combinedIndex() []IndexEntry {
	out := make([]IndexEntry, 0, len(m.priority)+len(m.index))
	out = append(out, m.priority...)
	return append(out, m.index...)
}

// LoadFulltextIndex loads the fulltext index of the embedded directory.
func (m *Manager) LoadFulltextIndex(ctx context.Context) ([]FulltextIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fulltext == nil {
		index, err := LoadFulltextIndex(ctx, m.config.DevicesDir, m.indexOptions(true))
		if err != nil {
			return nil, err
		}
		m.fulltext = index
	}
	return m.fulltext, nil
}

// LookupDevicePreserveConditions finds the config file for id and parses
// it without evaluating its conditions. The index is loaded on first use.
// Errors wrap config.ErrNotFound when no file matches.
func (m *Manager) LookupDevicePreserveConditions(ctx context.Context, id config.DeviceID) (*ConditionalDeviceConfig, error) {
	m.mu.Lock()
	if err := m.loadIndex(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	entry, ok := FindIndexEntry(m.combinedIndex(), id)
	m.mu.Unlock()

	if !ok {
		return nil, config.NotFoundf("no device config for %s", id)
	}

	rootDir := entry.RootDir
	embedded := rootDir == ""
	if embedded {
		rootDir = m.config.DevicesDir
	}
	filename := filepath.Join(rootDir, filepath.FromSlash(entry.Filename))
	if m.log != nil {
		m.log.Debugf("device %s uses %s", id, filename)
	}
	return LoadConditionalDeviceConfig(ctx, filename, LoadOptions{
		IsEmbedded:    embedded,
		RootDir:       rootDir,
		Cache:         m.cache,
		LoggerFactory: m.config.LoggerFactory,
	})
}

// LookupDevice finds the config file for id and evaluates it for id.
func (m *Manager) LookupDevice(ctx context.Context, id config.DeviceID) (*DeviceConfig, error) {
	c, err := m.LookupDevicePreserveConditions(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Evaluate(&id)
}

// Invalidate drops the loaded indexes, cached template files and parsed
// conditions.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidate()
}

func (m *Manager) invalidate() {
	m.index = nil
	m.priority = nil
	m.fulltext = nil
	m.loaded = false
	m.cache.Clear()
	logic.ClearParseCache()
}

// Close releases the caches. Watch returns ErrManagerClosed afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidate()
	m.closed = true
}
