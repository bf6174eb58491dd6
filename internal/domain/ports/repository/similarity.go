package repository

import "context"

// Neighbor is one similarity index hit. Lower distance means closer.
type Neighbor struct {
	ID       string
	Distance float64
	Text     string
}

// SimilarityIndex is a nearest-neighbour text search partitioned into scopes (one per article).
type SimilarityIndex interface {
	// OpenScope resolves the scope, creating an empty one when it does not exist yet.
	OpenScope(ctx context.Context, scopeID string) error
	// Query returns at most topK neighbours ordered by ascending distance.
	Query(ctx context.Context, scopeID, text string, topK int) ([]Neighbor, error)
	AddDocuments(ctx context.Context, scopeID string, texts, ids []string) error
}
