package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/dealmesh/core"
)

// storedDoc is the internal representation persisted by InMemoryStore.
type storedDoc struct {
	ID       string
	Content  string
	Metadata map[string]string
	tokens   map[string]struct{}
	seq      int
}

// InMemoryStore is a naive process-local knowledge base.
//
// Concurrency: protected by RWMutex.
// Similar: linear scan scoring each document by the fraction of distinct
// query tokens it contains. Suitable for tests, demos and runs without an
// embedding provider; use the vector package for semantic retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	storage map[string]map[string]storedDoc // collection -> id -> doc
	seq     int
}

// NewInMemoryStore creates a new in-memory knowledge base
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{storage: make(map[string]map[string]storedDoc)}
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[tok] = struct{}{}
	}
	return out
}

// Similar implements core.KnowledgeBase. Ties keep insertion order.
func (m *InMemoryStore) Similar(_ context.Context, collection, query string, k int, threshold float64) ([]core.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.storage[collection]
	if !exists {
		return []core.KnowledgeItem{}, nil
	}
	q := tokenize(query)
	type scored struct {
		doc storedDoc
		sim float64
	}
	hits := make([]scored, 0, len(docs))
	for _, d := range docs {
		sim := 1.0
		if len(q) > 0 {
			n := 0
			for tok := range q {
				if _, ok := d.tokens[tok]; ok {
					n++
				}
			}
			sim = float64(n) / float64(len(q))
		}
		if sim <= 0 || sim < threshold {
			continue
		}
		hits = append(hits, scored{doc: d, sim: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].doc.seq < hits[j].doc.seq
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	results := make([]core.KnowledgeItem, 0, len(hits))
	for _, h := range hits {
		results = append(results, core.KnowledgeItem{
			ID:         h.doc.ID,
			Content:    h.doc.Content,
			Similarity: h.sim,
			Metadata:   maps.Clone(h.doc.Metadata),
		})
	}
	return results, nil
}

// Index implements core.KnowledgeBase. Documents without an ID get a simple
// incremental one; an existing ID is replaced.
func (m *InMemoryStore) Index(_ context.Context, collection string, docs ...core.KnowledgeDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.storage[collection]; !exists {
		m.storage[collection] = make(map[string]storedDoc)
	}
	for _, d := range docs {
		m.seq++
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d", m.seq)
		}
		m.storage[collection][id] = storedDoc{
			ID:       id,
			Content:  d.Content,
			Metadata: maps.Clone(d.Metadata),
			tokens:   tokenize(d.Content),
			seq:      m.seq,
		}
	}
	return nil
}

// Delete removes a document by id.
func (m *InMemoryStore) Delete(collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, exists := m.storage[collection]
	if !exists {
		return fmt.Errorf("document not found")
	}
	if _, exists := docs[id]; !exists {
		return fmt.Errorf("document not found")
	}
	delete(docs, id)
	return nil
}

// Count returns the number of documents in a collection.
func (m *InMemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.storage[collection])
}
