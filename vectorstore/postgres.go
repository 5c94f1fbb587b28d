// Package vectorstore provides index backends that keep chunk vectors in an
// external store: PostgreSQL with pgvector, or Qdrant.
package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/docqa-agent/database"
	"github.com/fabfab/docqa-agent/index"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores every generation's vectors in rag_chunk_vectors. Rows are
// tagged with an owner id unique to this Postgres value, so several processes
// can share one table without touching each other's generations.
type Postgres struct {
	db        DB
	dimension int
	owner     string
	logger    *log.Logger
}

func NewPostgres(db DB, dimension int, logger *log.Logger) *Postgres {
	if logger == nil {
		logger = log.Default()
	}
	return &Postgres{db: db, dimension: dimension, owner: uuid.NewString(), logger: logger}
}

func (*Postgres) Name() string { return "pgvector" }

// Init ensures the schema exists. Rows owned by other processes are left in
// place; a crashed process leaves its rows behind until Purge runs.
func (p *Postgres) Init(ctx context.Context) error {
	if err := database.EnsureVectorSchema(ctx, p.db, p.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var foreign int64
	if err := p.db.QueryRow(ctx, "SELECT count(*) FROM rag_chunk_vectors WHERE owner <> $1", p.owner).Scan(&foreign); err != nil {
		return fmt.Errorf("count existing vectors: %w", err)
	}
	if foreign > 0 {
		p.logger.Warn("pgvector table holds rows from other processes; run the clear command once none are running",
			"rows", foreign)
	}
	return nil
}

// Purge removes the vectors of every owner and generation. Any process still
// serving from the table loses its index.
func (p *Postgres) Purge(ctx context.Context) error {
	tag, err := p.db.Exec(ctx, "DELETE FROM rag_chunk_vectors")
	if err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}
	if tag.RowsAffected() > 0 {
		p.logger.Warn("cleared pgvector rows of every process", "rows", tag.RowsAffected())
	}
	return nil
}

func (p *Postgres) Build(ctx context.Context, generation uint64, vectors [][]float32) (_ index.Searcher, err error) {
	for i, vec := range vectors {
		if len(vec) != p.dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, table expects %d", i, len(vec), p.dimension)
		}
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				p.logger.Warn("rollback error", "err", rbErr)
			}
		}
	}()

	for i, vec := range vectors {
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunk_vectors (owner, generation, position, embedding)
			VALUES ($1, $2, $3, $4)
		`, p.owner, int64(generation), i, pgvector.NewVector(vec)); err != nil {
			return nil, fmt.Errorf("insert vector %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &pgSearcher{db: p.db, owner: p.owner, generation: int64(generation), dimension: p.dimension}, nil
}

type pgSearcher struct {
	db         DB
	owner      string
	generation int64
	dimension  int
}

func (s *pgSearcher) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), s.dimension)
	}

	rows, err := s.db.Query(ctx, `
		SELECT position, 1 - (embedding <=> $3) AS score
		FROM rag_chunk_vectors
		WHERE owner = $1 AND generation = $2
		ORDER BY embedding <=> $3, position
		LIMIT $4
	`, s.owner, s.generation, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	hits := make([]index.Hit, 0, k)
	for rows.Next() {
		var hit index.Hit
		if err := rows.Scan(&hit.Position, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows: %w", err)
	}

	sortHits(hits)
	return hits, nil
}

func (s *pgSearcher) Close(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM rag_chunk_vectors WHERE owner = $1 AND generation = $2", s.owner, s.generation); err != nil {
		return fmt.Errorf("delete generation %d: %w", s.generation, err)
	}
	return nil
}

// sortHits restores position order among equal scores, which remote stores
// do not guarantee.
func sortHits(hits []index.Hit) {
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})
}

var _ index.Backend = (*Postgres)(nil)
