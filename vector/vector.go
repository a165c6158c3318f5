// Package vector implements core.KnowledgeBase on chromem-go, an embedded
// vector database with optional on-disk persistence.
package vector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/hupe1980/dealmesh/core"
)

// ErrNoEmbedding is returned by New when no embedding function is configured.
var ErrNoEmbedding = errors.New("vector: no embedding function configured")

// Options configure New.
type Options struct {
	// PersistPath stores the database as a gob file under this directory.
	// Empty keeps everything in memory.
	PersistPath string
	// Embed computes document and query embeddings.
	Embed chromem.EmbeddingFunc
	// CacheSize bounds the query embedding cache (0 disables it).
	CacheSize int
}

// Store is a chromem-go backed knowledge base.
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New opens the database.
func New(opts Options) (*Store, error) {
	if opts.Embed == nil {
		return nil, ErrNoEmbedding
	}
	embed := opts.Embed
	if opts.CacheSize > 0 {
		cached, err := CachedEmbedding(embed, opts.CacheSize)
		if err != nil {
			return nil, err
		}
		embed = cached
	}

	var db *chromem.DB
	if opts.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(opts.PersistPath, "dealmesh.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("vector: open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Store{db: db, embed: embed, collections: map[string]*chromem.Collection{}}, nil
}

// OpenAIEmbedding returns chromem's OpenAI embedding function.
func OpenAIEmbedding(apiKey string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("vector: collection %s: %w", name, err)
	}
	s.collections[name] = c
	return c, nil
}

// Similar implements core.KnowledgeBase.
func (s *Store) Similar(ctx context.Context, collection, query string, k int, threshold float64) ([]core.KnowledgeItem, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	// chromem rejects nResults above the collection size.
	n := min(k, c.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := c.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query %s: %w", collection, err)
	}
	items := make([]core.KnowledgeItem, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		items = append(items, core.KnowledgeItem{ID: r.ID, Content: r.Content, Similarity: sim, Metadata: r.Metadata})
	}
	return items, nil
}

// Index implements core.KnowledgeBase. Documents with an existing ID are
// replaced.
func (s *Store) Index(ctx context.Context, collection string, docs ...core.KnowledgeDoc) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	batch := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			d.ID = core.NewID()
		}
		batch = append(batch, chromem.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata})
	}
	if err := c.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("vector: index %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	c, err := s.collection(collection)
	if err != nil {
		return 0
	}
	return c.Count()
}

// CachedEmbedding memoizes fn by exact text.
func CachedEmbedding(fn chromem.EmbeddingFunc, size int) (chromem.EmbeddingFunc, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := cache.Get(text); ok {
			return v, nil
		}
		v, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, v)
		return v, nil
	}, nil
}

// LexicalEmbedding is an offline embedding: lower-cased word tokens hashed
// into dim buckets, L2-normalized. It captures vocabulary overlap only and is
// meant for local runs without an embedding provider.
func LexicalEmbedding(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dim)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
		return vec, nil
	}
}
