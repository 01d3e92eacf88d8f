package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/caselaw-cli/internal/db"
	"github.com/sells-group/caselaw-cli/internal/embed"
	"github.com/sells-group/caselaw-cli/internal/model"
)

// PostgresStore implements Store using pgxpool and pgvector.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	table   string
	dim     int
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if opts.MaxConns > 0 {
		maxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		minConns = opts.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := newPostgresStore(pool, opts)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool, opts Options) *PostgresStore {
	dim := opts.Dim
	if dim <= 0 {
		dim = embed.DefaultDim
	}
	return &PostgresStore{pool: pool, table: opts.table(), dim: dim}
}

func (s *PostgresStore) migration() string {
	t := db.QuoteTable(s.table)
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	case_name        TEXT NOT NULL,
	jurisdiction     TEXT NOT NULL DEFAULT '',
	court_level      TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	holding          TEXT NOT NULL DEFAULT '',
	citation         TEXT NOT NULL UNIQUE,
	outcome          TEXT NOT NULL,
	tags             TEXT[] NOT NULL DEFAULT '{}',
	vector_embedding VECTOR(%[2]d),
	source_link      TEXT NOT NULL DEFAULT '',
	provider         TEXT NOT NULL DEFAULT '',
	decided_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (outcome);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	params     JSONB NOT NULL,
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_created ON ingest_runs (created_at DESC);
`, t, s.dim, db.QuoteTable(indexName(s.table)))
}

// indexName derives the outcome index name from an unqualified table name.
func indexName(table string) string {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i] == '.' {
			table = table[i+1:]
			break
		}
	}
	return "idx_" + table + "_outcome"
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, s.migration())
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertOpinions writes records in one transaction keyed by citation.
func (s *PostgresStore) UpsertOpinions(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		var decided any
		if !r.DecidedAt.IsZero() {
			decided = r.DecidedAt.UTC()
		}
		var vec any
		if len(r.Embedding) > 0 {
			vec = db.VectorLiteral(r.Embedding)
		}
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		rows[i] = []any{
			r.CaseName,
			r.Jurisdiction,
			r.Court,
			r.Summary,
			r.Holding,
			r.StorageCitation(),
			string(r.Outcome),
			tags,
			vec,
			r.SourceLink,
			r.Provider,
			decided,
		}
	}

	_, err := db.BatchUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.table,
		Columns:      opinionColumns,
		ConflictKeys: []string{"citation"},
		Casts:        map[string]string{"vector_embedding": "vector"},
		UpdateExtra:  []string{"updated_at = now()"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert opinions")
	}
	return len(records), nil
}

func (s *PostgresStore) CountOpinions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+db.QuoteTable(s.table)).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count opinions")
	}
	return n, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, params model.RunParams) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), paramsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.IngestRun{
		ID:        id,
		Status:    model.RunStatusRunning,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult, runErr string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, result = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(status), resultJSON, runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var r model.IngestRun
	var paramsJSON []byte
	var resultJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, params, result, error, created_at, updated_at FROM ingest_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &paramsJSON, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := decodeRun(&r, paramsJSON, resultJSON); err != nil {
		return nil, eris.Wrap(err, "postgres")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, status, params, result, error, created_at, updated_at FROM ingest_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var paramsJSON []byte
		var resultJSON *[]byte
		if err := rows.Scan(&r.ID, &r.Status, &paramsJSON, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := decodeRun(&r, paramsJSON, resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	return runs, nil
}

// decodeRun fills the JSON columns of a run row.
func decodeRun(r *model.IngestRun, paramsJSON []byte, resultJSON *[]byte) error {
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return eris.Wrap(err, "unmarshal params")
		}
	}
	if resultJSON != nil && len(*resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return eris.Wrap(err, "unmarshal result")
		}
	}
	return nil
}
