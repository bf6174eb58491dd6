package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/patrickmn/go-cache"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/domain/ports/repository"
	"comment-refiner/internal/infra/metrics"
)

var _ repository.SimilarityIndex = (*CommentIndex)(nil)

// ErrSchemaMissing is returned when the index tables have not been created yet.
var ErrSchemaMissing = errors.New("comment index schema missing; run EnsureSchema")

// CommentIndex is the per-article similarity index over existing reader comments (pgvector, cosine distance).
type CommentIndex struct {
	pool     *pgxpool.Pool
	tx       repository.TransactionManager
	embedder adapter.Embedder
	dims     int
	scopes   *cache.Cache // scope ids known to exist
	log      *zerolog.Logger
}

func NewCommentIndex(pool *pgxpool.Pool, tx repository.TransactionManager, embedder adapter.Embedder, dims int, logger *zerolog.Logger) *CommentIndex {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &CommentIndex{
		pool:     pool,
		tx:       tx,
		embedder: embedder,
		dims:     dims,
		scopes:   cache.New(30*time.Minute, 10*time.Minute),
		log:      logger,
	}
}

func (ix *CommentIndex) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS comment_scopes (
			scope_id   UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS comment_embeddings (
			scope_id   UUID NOT NULL REFERENCES comment_scopes(scope_id) ON DELETE CASCADE,
			doc_id     TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (scope_id, doc_id)
		)`, ix.dims),
		`CREATE INDEX IF NOT EXISTS comment_embeddings_embedding_idx
			ON comment_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
}

// EnsureSchema creates the extension, tables and ANN index when missing.
func (ix *CommentIndex) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ix.schema() {
		if _, err := ix.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (ix *CommentIndex) OpenScope(ctx context.Context, scopeID string) error {
	if _, err := uuid.Parse(scopeID); err != nil {
		return fmt.Errorf("%w: scope id %q", domain.ErrInvalidArgument, scopeID)
	}
	if _, ok := ix.scopes.Get(scopeID); ok {
		metrics.IncCacheRequest("scope", "hit")
		return nil
	}
	metrics.IncCacheRequest("scope", "miss")

	ex, err := getExecutor(ix.pool, nil)
	if err != nil {
		return err
	}
	if err := openScope(ctx, ex, scopeID); err != nil {
		return err
	}
	ix.scopes.SetDefault(scopeID, struct{}{})
	return nil
}

// ResolveScope checks that scopeID is well formed and, when the scope exists, caches it.
// It never writes: a scope that has not been opened yet is not an error.
func (ix *CommentIndex) ResolveScope(ctx context.Context, scopeID string) error {
	if _, err := uuid.Parse(scopeID); err != nil {
		return fmt.Errorf("%w: scope id %q", domain.ErrInvalidArgument, scopeID)
	}
	if _, ok := ix.scopes.Get(scopeID); ok {
		metrics.IncCacheRequest("scope", "hit")
		return nil
	}
	metrics.IncCacheRequest("scope", "miss")

	ex, err := getExecutor(ix.pool, nil)
	if err != nil {
		return err
	}
	var exists bool
	if err := ex.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comment_scopes WHERE scope_id = $1)`, scopeID).Scan(&exists); err != nil {
		return fmt.Errorf("resolve scope %s: %w", scopeID, mapPgErr(err))
	}
	if exists {
		ix.scopes.SetDefault(scopeID, struct{}{})
	}
	return nil
}

func openScope(ctx context.Context, ex executor, scopeID string) error {
	_, err := ex.Exec(ctx, `INSERT INTO comment_scopes (scope_id) VALUES ($1) ON CONFLICT (scope_id) DO NOTHING`, scopeID)
	if err != nil {
		return fmt.Errorf("open scope %s: %w", scopeID, mapPgErr(err))
	}
	return nil
}

// Query embeds text and returns the topK closest comments of the scope, nearest first.
func (ix *CommentIndex) Query(ctx context.Context, scopeID, text string, topK int) ([]repository.Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}
	vecs, err := ix.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	ex, err := getExecutor(ix.pool, nil)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `
		SELECT doc_id, content, embedding <=> $2::vector AS distance
		FROM comment_embeddings
		WHERE scope_id = $1
		ORDER BY distance
		LIMIT $3`, scopeID, pgvector.NewVector(vecs[0]), topK)
	if err != nil {
		return nil, fmt.Errorf("query scope %s: %w", scopeID, mapPgErr(err))
	}
	defer rows.Close()

	out := make([]repository.Neighbor, 0, topK)
	for rows.Next() {
		var n repository.Neighbor
		if err := rows.Scan(&n.ID, &n.Text, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbour: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err)
	}
	return out, nil
}

// AddDocuments embeds texts and upserts them under ids in one transaction.
func (ix *CommentIndex) AddDocuments(ctx context.Context, scopeID string, texts, ids []string) error {
	if len(texts) != len(ids) {
		return fmt.Errorf("%w: %d texts for %d ids", domain.ErrInvalidArgument, len(texts), len(ids))
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := ix.embed(ctx, texts)
	if err != nil {
		return err
	}

	err = ix.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(ix.pool, tx)
		if err != nil {
			return err
		}
		if err := openScope(ctx, ex, scopeID); err != nil {
			return err
		}
		b := &pgx.Batch{}
		for i := range texts {
			b.Queue(`
				INSERT INTO comment_embeddings (scope_id, doc_id, content, embedding)
				VALUES ($1, $2, $3, $4::vector)
				ON CONFLICT (scope_id, doc_id) DO UPDATE
				SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
				scopeID, ids[i], texts[i], pgvector.NewVector(vecs[i]))
		}
		br := ex.SendBatch(ctx, b)
		for range texts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert comment: %w", mapPgErr(err))
			}
		}
		return br.Close()
	})
	if err != nil {
		return err
	}
	ix.scopes.SetDefault(scopeID, struct{}{})
	ix.log.Debug().Str("scope_id", scopeID).Int("documents", len(texts)).Msg("comments indexed")
	return nil
}

func (ix *CommentIndex) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != ix.dims {
			return nil, fmt.Errorf("embed: vector %d has %d dims, index expects %d", i, len(v), ix.dims)
		}
	}
	return vecs, nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" { // undefined_table
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
	}
	return err
}
