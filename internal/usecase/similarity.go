package usecase

import (
	"context"
	"fmt"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/ports/repository"
	"comment-refiner/internal/infra/metrics"
)

const (
	relatedMaxResults  = 2
	relatedMaxDistance = 0.9
)

// SimilarityFilter finds existing comments on the same article that are close to an opinion.
type SimilarityFilter struct {
	index repository.SimilarityIndex
}

func NewSimilarityFilter(index repository.SimilarityIndex) *SimilarityFilter {
	return &SimilarityFilter{index: index}
}

// Related returns up to two neighbours with distance strictly below 0.9, in index order.
func (f *SimilarityFilter) Related(ctx context.Context, scopeID, text string) ([]repository.Neighbor, error) {
	hits, err := f.index.Query(ctx, scopeID, text, relatedMaxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity query: %w", domain.ErrUpstream, err)
	}
	out := make([]repository.Neighbor, 0, relatedMaxResults)
	for _, h := range hits {
		if len(out) == relatedMaxResults {
			break
		}
		if h.Distance < relatedMaxDistance {
			out = append(out, h)
		}
	}
	metrics.ObserveRelatedOpinions(len(out))
	return out, nil
}
