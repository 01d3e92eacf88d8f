package store

import (
	"context"

	"github.com/sells-group/caselaw-cli/internal/model"
)

// DefaultTable is the opinion table name.
const DefaultTable = "federal_case_library"

// Options configures a store implementation.
type Options struct {
	// Table is the opinion table, optionally schema-qualified. Default: DefaultTable.
	Table string
	// Dim is the embedding dimension used by the Postgres vector column.
	Dim int
	// MaxConns and MinConns tune the Postgres pool.
	MaxConns int32
	MinConns int32
}

func (o Options) table() string {
	if o.Table == "" {
		return DefaultTable
	}
	return o.Table
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Sink persists opinion records. UpsertOpinions is keyed by citation and is
// atomic per call: it returns len(records) on success and 0 with an error
// otherwise.
type Sink interface {
	UpsertOpinions(ctx context.Context, records []model.Record) (int, error)
}

// Store is the full persistence interface used by the CLI.
type Store interface {
	Sink

	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.IngestRun, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error)

	// Opinions
	CountOpinions(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// opinionColumns is the column order shared by both implementations.
var opinionColumns = []string{
	"case_name",
	"jurisdiction",
	"court_level",
	"summary",
	"holding",
	"citation",
	"outcome",
	"tags",
	"vector_embedding",
	"source_link",
	"provider",
	"decided_at",
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
