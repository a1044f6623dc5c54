package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

// PGVectorIndex stores vectors in a Postgres table with the pgvector extension. Payload is
// kept as JSONB so filters become containment queries.
type PGVectorIndex struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	logger     *zap.Logger
}

// NewPGVectorIndex connects to dsn and creates the extension, table and indexes if missing.
func NewPGVectorIndex(ctx context.Context, dsn, collection string, dimensions int, opts ...Option) (*PGVectorIndex, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgvector dsn is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", models.ErrVectorIndex, err)
	}
	o := applyOptions(opts)
	p := &PGVectorIndex{
		pool:       pool,
		table:      pgx.Identifier{collection}.Sanitize(),
		dimensions: dimensions,
		logger:     o.logger,
	}
	if err := p.migrate(ctx, collection); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PGVectorIndex) migrate(ctx context.Context, collection string) error {
	idx := func(suffix string) string { return pgx.Identifier{collection + suffix}.Sanitize() }
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (payload)`, idx("_payload_idx"), p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, idx("_embedding_idx"), p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate pgvector table: %w", err)
		}
	}
	if p.logger != nil {
		p.logger.Info("pgvector table ready", zap.String("table", p.table), zap.Int("dimensions", p.dimensions))
	}
	return nil
}

// Backend returns "pgvector".
func (p *PGVectorIndex) Backend() string {
	return "pgvector"
}

// Dimensions returns the vector column size.
func (p *PGVectorIndex) Dimensions() int {
	return p.dimensions
}

// Upsert writes all points in one batch.
func (p *PGVectorIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = now()`, p.table)
	batch := &pgx.Batch{}
	for _, pt := range points {
		if err := checkDimensions(pt.Vector, p.dimensions, "vector"); err != nil {
			return err
		}
		payload := pt.Payload
		if payload == nil {
			payload = map[string]string{}
		}
		batch.Queue(query, pt.ID, pgvector.NewVector(pt.Vector), payload)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return classifyPG(err)
	}
	return nil
}

// Remove deletes rows by id.
func (p *PGVectorIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), ids)
	return classifyPG(err)
}

// Search orders rows by cosine distance and reports 1 - distance as the score.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error) {
	if err := checkDimensions(query, p.dimensions, "query"); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	cond := map[string]string(filter)
	if cond == nil {
		cond = map[string]string{}
	}
	sql := fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE payload @> $2
		ORDER BY embedding <=> $1
		LIMIT $3`, p.table)
	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(query), cond, k)
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()
	var out []*VectorResult
	for rows.Next() {
		var (
			r       VectorResult
			payload map[string]string
		)
		if err := rows.Scan(&r.ID, &payload, &r.Score); err != nil {
			return nil, classifyPG(err)
		}
		r.Payload = payload
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(err)
	}
	return out, nil
}

// Count returns the number of rows.
func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, classifyPG(err)
	}
	return n, nil
}

// CountMatching returns the number of rows whose payload contains filter.
func (p *PGVectorIndex) CountMatching(ctx context.Context, filter Filter) (int, error) {
	cond := map[string]string(filter)
	if cond == nil {
		cond = map[string]string{}
	}
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE payload @> $1`, p.table), cond).Scan(&n); err != nil {
		return 0, classifyPG(err)
	}
	return n, nil
}

// Close closes the connection pool.
func (p *PGVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

// classifyPG wraps err as a vector index error. Syntax, data and integrity errors
// (SQLSTATE classes 22, 23, 42) will not go away on retry.
func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%w: %w", models.ErrVectorIndex, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, class := range []string{"22", "23", "42"} {
			if strings.HasPrefix(pgErr.Code, class) {
				return retry.Permanent(wrapped)
			}
		}
	}
	return wrapped
}
