package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// maxParams is Postgres' limit on bind parameters per statement.
const maxParams = 65535

// UpsertConfig defines the parameters for a batched upsert.
type UpsertConfig struct {
	Table        string            // target table (e.g., "public.federal_case_library")
	Columns      []string          // all columns being inserted
	ConflictKeys []string          // columns forming the unique constraint
	UpdateCols   []string          // columns to update on conflict; nil = all non-conflict columns
	Casts        map[string]string // optional per-column cast, e.g. {"vector_embedding": "vector"}
	UpdateExtra  []string          // raw SET clauses appended on conflict, e.g. "updated_at = now()"
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !conflictSet[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// BuildUpsertSQL renders a multi-row INSERT ... ON CONFLICT ... DO UPDATE for
// n rows with positional parameters.
func BuildUpsertSQL(cfg UpsertConfig, n int) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if n <= 0 {
		return "", eris.New("db: upsert: no rows")
	}

	tuples := make([]string, n)
	param := 1
	for r := range n {
		ph := make([]string, len(cfg.Columns))
		for c, col := range cfg.Columns {
			ph[c] = fmt.Sprintf("$%d", param)
			if cast, ok := cfg.Casts[col]; ok {
				ph[c] += "::" + cast
			}
			param++
		}
		tuples[r] = "(" + strings.Join(ph, ", ") + ")"
	}

	var setClauses []string
	for _, col := range cfg.updateCols() {
		id := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	setClauses = append(setClauses, cfg.UpdateExtra...)

	conflict := "DO NOTHING"
	if len(setClauses) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		QuoteTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(tuples, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		conflict,
	), nil
}

// BatchUpsert writes rows inside a single transaction, split into as few
// statements as the parameter limit allows. Either every row is written or
// none are.
func BatchUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return 0, eris.Errorf("db: upsert: row %d has %d values, want %d", i, len(row), len(cfg.Columns))
		}
	}

	perStmt := max(1, maxParams/len(cfg.Columns))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var affected int64
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		chunk := rows[start:end]

		sql, err := BuildUpsertSQL(cfg, len(chunk))
		if err != nil {
			return 0, err
		}
		args := make([]any, 0, len(chunk)*len(cfg.Columns))
		for _, row := range chunk {
			args = append(args, row...)
		}

		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return affected, nil
}

// QuoteTable quotes schema-qualified table names like "public.federal_case_library".
func QuoteTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
