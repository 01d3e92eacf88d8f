package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/caselaw-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Tags and embeddings
// are stored as JSON text.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// SQLite has no schemas; keep only the table part.
	table := opts.table()
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return &SQLiteStore{db: db, table: table}, nil
}

func (s *SQLiteStore) migration() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id               TEXT PRIMARY KEY,
	case_name        TEXT NOT NULL,
	jurisdiction     TEXT NOT NULL DEFAULT '',
	court_level      TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	holding          TEXT NOT NULL DEFAULT '',
	citation         TEXT NOT NULL UNIQUE,
	outcome          TEXT NOT NULL,
	tags             TEXT NOT NULL DEFAULT '[]',
	vector_embedding TEXT,
	source_link      TEXT NOT NULL DEFAULT '',
	provider         TEXT NOT NULL DEFAULT '',
	decided_at       DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_outcome ON %[1]s (outcome);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	params     TEXT NOT NULL,
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`, s.table)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.migration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertOpinions writes records in one transaction keyed by citation.
func (s *SQLiteStore) UpsertOpinions(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	updates := make([]string, 0, len(opinionColumns))
	for _, c := range opinionColumns {
		if c != "citation" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, %s) VALUES (?%s) ON CONFLICT(citation) DO UPDATE SET %s, updated_at = datetime('now')`,
		s.table,
		strings.Join(opinionColumns, ", "),
		strings.Repeat(", ?", len(opinionColumns)),
		strings.Join(updates, ", "),
	)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal tags")
		}
		var vec any
		if len(r.Embedding) > 0 {
			b, err := json.Marshal(r.Embedding)
			if err != nil {
				return 0, eris.Wrap(err, "sqlite: marshal embedding")
			}
			vec = string(b)
		}
		var decided any
		if !r.DecidedAt.IsZero() {
			decided = r.DecidedAt.UTC()
		}

		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			r.CaseName,
			r.Jurisdiction,
			r.Court,
			r.Summary,
			r.Holding,
			r.StorageCitation(),
			string(r.Outcome),
			string(tagsJSON),
			vec,
			r.SourceLink,
			r.Provider,
			decided,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert opinion %s", r.StorageCitation())
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return len(records), nil
}

func (s *SQLiteStore) CountOpinions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count opinions")
	}
	return n, nil
}

// GetOpinion loads a stored opinion by its citation key.
func (s *SQLiteStore) GetOpinion(ctx context.Context, citation string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE citation = ?`, strings.Join(opinionColumns, ", "), s.table,
	), citation)

	var r model.Record
	var outcome, tagsJSON string
	var vec sql.NullString
	var decided sql.NullTime
	err := row.Scan(&r.CaseName, &r.Jurisdiction, &r.Court, &r.Summary, &r.Holding,
		&r.Citation, &outcome, &tagsJSON, &vec, &r.SourceLink, &r.Provider, &decided)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("opinion not found: %s", citation)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan opinion")
	}

	r.Outcome = model.Outcome(outcome)
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if vec.Valid {
		if err := json.Unmarshal([]byte(vec.String), &r.Embedding); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
		}
	}
	if decided.Valid {
		r.DecidedAt = decided.Time.UTC()
	}
	return &r, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(paramsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.IngestRun{
		ID:        id,
		Status:    model.RunStatusRunning,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult, runErr string) error {
	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		resultJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), resultJSON, runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, params, result, error, created_at, updated_at FROM ingest_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, status, params, result, error, created_at, updated_at FROM ingest_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.IngestRun, error) {
	var r model.IngestRun
	var paramsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &paramsJSON, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	var result *[]byte
	if resultJSON.Valid {
		b := []byte(resultJSON.String)
		result = &b
	}
	if err := decodeRun(&r, []byte(paramsJSON), result); err != nil {
		return nil, eris.Wrap(err, "sqlite")
	}
	return &r, nil
}
