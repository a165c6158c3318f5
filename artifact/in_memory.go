package artifact

import (
	"context"
	"path"
	"slices"
	"strings"
	"sync"
)

type entry struct {
	data        []byte
	contentType string
}

// InMemoryStore is a trivial in‑process ArtifactStore implementation useful
// for tests, examples and the HTTP server's default configuration. Data is
// copied on save / retrieval to avoid accidental external mutation of
// internal buffers.
//
// It does not enforce retention limits, size quotas, or eviction.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]entry
}

// NewInMemoryStore returns an empty in‑memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]entry)}
}

// Save stores (or overwrites) the artifact bytes under key.
func (a *InMemoryStore) Save(_ context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.artifacts[key] = entry{data: slices.Clone(data), contentType: contentType}
	return "mem://" + key, nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.artifacts[strings.TrimPrefix(key, "/")]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(e.data), nil
}

// ContentType returns the content type recorded at save time.
func (a *InMemoryStore) ContentType(key string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.artifacts[key].contentType
}

// List returns the sorted keys starting with prefix.
func (a *InMemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.artifacts))
	for k := range a.artifacts {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.artifacts[key]; !ok {
		return ErrNotFound
	}
	delete(a.artifacts, key)
	return nil
}

// CleanKey normalises a slash separated key and rejects keys that would
// escape the store root.
func CleanKey(key string) (string, error) {
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	c := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if c == "" {
		return "", ErrInvalidKey
	}
	return c, nil
}
