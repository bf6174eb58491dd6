package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"comment-refiner/internal/domain/ports/repository"
)

// Document is one existing comment to index.
type Document struct {
	ID   string
	Text string
}

// CorpusLoader fills an article's similarity scope with existing comments, one batch per task.
type CorpusLoader struct {
	index     repository.SimilarityIndex
	pool      *Pool
	batchSize int
	log       *zerolog.Logger
	indexed   atomic.Int64
}

func NewCorpusLoader(index repository.SimilarityIndex, pool *Pool, batchSize int, logger *zerolog.Logger) *CorpusLoader {
	if batchSize <= 0 {
		batchSize = 64
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &CorpusLoader{index: index, pool: pool, batchSize: batchSize, log: logger}
}

// Load opens the scope and submits the documents in batches. The caller stops the pool to
// wait for completion and collect the first batch error.
func (c *CorpusLoader) Load(ctx context.Context, scopeID string, docs []Document) error {
	if err := c.index.OpenScope(ctx, scopeID); err != nil {
		return fmt.Errorf("open scope %s: %w", scopeID, err)
	}
	for start := 0; start < len(docs); start += c.batchSize {
		batch := docs[start:min(start+c.batchSize, len(docs))]
		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, d := range batch {
			texts[i], ids[i] = d.Text, d.ID
		}
		first := start
		task := func(ctx context.Context) error {
			if err := c.index.AddDocuments(ctx, scopeID, texts, ids); err != nil {
				return fmt.Errorf("batch at %d: %w", first, err)
			}
			n := c.indexed.Add(int64(len(ids)))
			c.log.Debug().Str("scope_id", scopeID).Int64("indexed", n).Msg("batch indexed")
			return nil
		}
		if err := c.pool.Submit(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// Indexed reports how many documents were written so far.
func (c *CorpusLoader) Indexed() int64 { return c.indexed.Load() }
