// Package trust implements the layered trust decision: a compiled
// built-in process-name set, a platform system-path prefix check, an
// in-memory cache, and a durable Store-backed user/learned trust table.
package trust

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tarekazabou/sentineld/internal/events"
)

// StoreBackend is the subset of *store.Store the trust registry needs.
// Defined here (rather than importing internal/store directly) keeps
// the registry testable against a minimal fake.
type StoreBackend interface {
	IsTrusted(name, path, hash string) (bool, error)
	AddTrustEntry(e events.TrustEntry) error
	RemoveTrustEntry(name, path string) error
}

// Registry is the layered trust decision engine.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]bool
	prefixes []string
	cache    map[string]bool
	store    StoreBackend
}

// New constructs a Registry for the current OS (override via newForOS in
// tests that need to exercise the other platform's lists).
func New(store StoreBackend) *Registry {
	return newForOS(store, runtime.GOOS == "windows")
}

func newForOS(store StoreBackend, windows bool) *Registry {
	return &Registry{
		builtins: builtinSet(windows),
		prefixes: systemPathPrefixes(windows),
		cache:    make(map[string]bool),
		store:    store,
	}
}

// IsTrusted implements the four-step decision, in order: built-in
// name, system path prefix, cache hit, durable store lookup.
func (r *Registry) IsTrusted(name, path, hash string) bool {
	nameLower := strings.ToLower(name)

	r.mu.RLock()
	builtin := r.builtins[nameLower]
	r.mu.RUnlock()
	if builtin {
		return true
	}

	if path != "" && r.underSystemPrefix(path) {
		return true
	}

	key := cacheKey(nameLower, path, hash)
	r.mu.RLock()
	cached := r.cache[key]
	r.mu.RUnlock()
	if cached {
		return true
	}

	if r.store == nil {
		return false
	}
	trusted, err := r.store.IsTrusted(nameLower, path, hash)
	if err != nil || !trusted {
		return false
	}

	r.mu.Lock()
	r.cache[key] = true
	r.mu.Unlock()
	return true
}

func (r *Registry) underSystemPrefix(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(lower, filepath.ToSlash(prefix)) {
			return true
		}
	}
	return false
}

// Add persists a new trust entry and invalidates every cache entry whose
// name-prefix matches.
func (r *Registry) Add(name, path, hash, publisher string, addedBy events.TrustAddedBy, reason string) error {
	entry := events.TrustEntry{
		Name: name, Path: path, Hash: hash, Publisher: publisher,
		AddedBy: addedBy, Reason: reason,
	}
	if r.store != nil {
		if err := r.store.AddTrustEntry(entry); err != nil {
			return err
		}
	}
	r.invalidate(strings.ToLower(name))
	return nil
}

// Remove deletes matching entries from the store and purges the cache.
// Built-ins are never removable: Remove has no effect on them.
func (r *Registry) Remove(name, path string) error {
	nameLower := strings.ToLower(name)
	r.mu.RLock()
	isBuiltin := r.builtins[nameLower]
	r.mu.RUnlock()
	if isBuiltin {
		return nil
	}
	if r.store != nil {
		if err := r.store.RemoveTrustEntry(nameLower, path); err != nil {
			return err
		}
	}
	r.invalidate(nameLower)
	return nil
}

func (r *Registry) invalidate(namePrefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, namePrefix+":") {
			delete(r.cache, key)
		}
	}
}

func cacheKey(name, path, hash string) string {
	return name + ":" + path + ":" + hash
}

// seedEntry is the YAML shape for a trust-seed file entry.
type seedEntry struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Hash      string `yaml:"hash"`
	Publisher string `yaml:"publisher"`
	Reason    string `yaml:"reason"`
}

// LoadSeed parses data as a YAML list of additional system-vouched trust
// entries and adds each as added_by=system, for fleet rollouts that
// ship a pre-approved list alongside the binary. Reading the seed file
// is left to the caller.
func (r *Registry) LoadSeed(data []byte) error {
	var entries []seedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		reason := e.Reason
		if reason == "" {
			reason = "seeded at startup"
		}
		if err := r.Add(e.Name, e.Path, e.Hash, e.Publisher, events.TrustAddedBySystem, reason); err != nil {
			return err
		}
	}
	return nil
}
