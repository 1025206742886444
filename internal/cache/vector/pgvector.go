package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"asahi/internal/domain"
)

// PgStore backs the similarity store with Postgres and the pgvector
// extension. Similarity is 1 - cosine distance (the <=> operator);
// with unit vectors this matches the in-memory store's dot product.
type PgStore struct {
	db    *sql.DB
	table string
}

// OpenPg connects to Postgres and prepares the embeddings table.
func OpenPg(dsn, table string, dimension int) (*PgStore, error) {
	if table == "" {
		table = "prompt_embeddings"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "failed to open postgres", err)
	}
	if err := db.Ping(); err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "failed to reach postgres", err)
	}

	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata  JSONB NOT NULL DEFAULT '{}'
		)`, table, dimension)
	if _, err := db.Exec(schema); err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "failed to prepare schema", err)
	}

	return &PgStore{db: db, table: table}, nil
}

func (s *PgStore) Upsert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	// One multi-row INSERT so a batch costs a single round trip.
	values := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*3)
	for i, entry := range entries {
		if entry.ID == "" {
			return 0, domain.E(domain.ErrSimilarityStore, "entry id required")
		}
		meta, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, domain.Wrap(domain.ErrSimilarityStore, "failed to encode metadata", err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d::vector, $%d)", i*3+1, i*3+2, i*3+3))
		args = append(args, entry.ID, pgvector.NewVector(entry.Embedding), meta)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, s.table, strings.Join(values, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.Wrap(domain.ErrSimilarityStore, "upsert failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(entries), nil
	}
	return int(n), nil
}

func (s *PgStore) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	meta, err := json.Marshal(filter)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "failed to encode filter", err)
	}

	query := fmt.Sprintf(`
		SELECT id, embedding, metadata,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE metadata @> $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, s.table)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(embedding), meta, topK)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "query failed", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			e        Entry
			vec      pgvector.Vector
			metaRaw  []byte
			simScore float64
		)
		if err := rows.Scan(&e.ID, &vec, &metaRaw, &simScore); err != nil {
			return nil, domain.Wrap(domain.ErrSimilarityStore, "scan failed", err)
		}
		e.Embedding = vec.Slice()
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return nil, domain.Wrap(domain.ErrSimilarityStore, "failed to decode metadata", err)
		}
		matches = append(matches, Match{Entry: e, Similarity: clamp(simScore)})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrSimilarityStore, "row iteration failed", err)
	}
	return matches, nil
}

func (s *PgStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	res, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, domain.Wrap(domain.ErrSimilarityStore, "delete failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *PgStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, domain.Wrap(domain.ErrSimilarityStore, "count failed", err)
	}
	return count, nil
}

// Close releases the database connection pool.
func (s *PgStore) Close() error { return s.db.Close() }
