package core

import "context"

// ArtifactStore persists report artifacts (batch JSON and markdown).
// Implementations must be safe for concurrent use. Save returns a location
// string describing where the artifact ended up.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
