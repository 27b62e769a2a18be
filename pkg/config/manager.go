package config

import (
	"fmt"
	"sort"
	"sync"
)

// Manager owns the live configuration.
// Patches are validated, checked against environment locks, persisted to the
// config file (when one is set) and then published to OnChange listeners.
type Manager struct {
	mu        sync.RWMutex
	path      string
	file      Config // defaults plus file, what gets persisted
	current   Config // file plus environment overrides
	locked    map[string]bool
	listeners []func(Config)
}

// NewManager loads path (see Load) and returns a manager persisting to it.
// An empty path keeps configuration in memory only.
func NewManager(path string) (*Manager, error) {
	file, current, locked, err := loadLayers(path, lookupEnv)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, file: file, current: current, locked: locked}, nil
}

// NewStaticManager wraps an already-built configuration without a backing file.
func NewStaticManager(cfg Config, locked map[string]bool) *Manager {
	if locked == nil {
		locked = map[string]bool{}
	}
	return &Manager{file: cfg, current: cfg, locked: locked}
}

// Path returns the backing config file, or "".
func (m *Manager) Path() string {
	return m.path
}

// Current returns a copy of the live configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Locked returns the patch keys pinned by environment variables, sorted.
func (m *Manager) Locked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.locked))
	for k := range m.locked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OnChange registers fn to receive the new configuration after every successful change.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Apply validates and applies p, returning the previous values of exactly the keys it touched.
func (m *Manager) Apply(p Patch) (Patch, error) {
	if p.IsEmpty() {
		return Patch{}, fmt.Errorf("%w: patch is empty", ErrInvalidPatch)
	}

	m.mu.Lock()
	if keys := lockedKeys(p, m.locked); len(keys) > 0 {
		m.mu.Unlock()
		return Patch{}, &LockedError{Keys: keys}
	}

	next, err := m.current.Apply(p)
	if err != nil {
		m.mu.Unlock()
		return Patch{}, err
	}
	prev := Snapshot(m.current, p)

	nextFile := m.file
	for _, f := range patchFields {
		if f.present(&p) {
			f.apply(&nextFile, &p)
		}
	}
	if m.path != "" {
		if err := Save(m.path, nextFile); err != nil {
			m.mu.Unlock()
			return Patch{}, err
		}
	}

	m.file = nextFile
	m.current = next
	listeners := append([]func(Config){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return prev, nil
}

// Reload re-reads the config file and environment. Listeners are only notified when something changed.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}
	file, current, locked, err := loadLayers(m.path, lookupEnv)
	if err != nil {
		return err
	}

	m.mu.Lock()
	changed := current != m.current
	m.file, m.current, m.locked = file, current, locked
	listeners := append([]func(Config){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(current)
		}
	}
	return nil
}
