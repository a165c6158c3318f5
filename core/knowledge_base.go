package core

import "context"

// Knowledge base collections.
const (
	CollectionCars      = "cars"
	CollectionKnowledge = "knowledge"
	CollectionAnalyses  = "analyses"
)

// KnowledgeItem is a retrieved item with its similarity in [0,1].
type KnowledgeItem struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// KnowledgeDoc is an item to index.
type KnowledgeDoc struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// KnowledgeBase is the vector-similarity collaborator. Implementations may
// back Similar with embeddings, keywords or any heuristic; items below
// threshold are dropped and results are ordered by similarity descending.
type KnowledgeBase interface {
	Similar(ctx context.Context, collection, query string, k int, threshold float64) ([]KnowledgeItem, error)
	Index(ctx context.Context, collection string, docs ...KnowledgeDoc) error
}
