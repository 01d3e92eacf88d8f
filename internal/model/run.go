package model

import "time"

// RunStatus is the lifecycle state of an ingest run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// Policy selects which classified outcomes are kept. WON is always kept.
type Policy struct {
	IncludeUnknown bool `json:"include_unknown"`
	IncludeLost    bool `json:"include_lost"`
}

// Keeps reports whether an opinion with outcome o passes the policy.
func (p Policy) Keeps(o Outcome) bool {
	switch o {
	case OutcomeWon:
		return true
	case OutcomeLost:
		return p.IncludeLost
	default:
		return p.IncludeUnknown
	}
}

// RunParams records what an ingest run was asked to do.
type RunParams struct {
	Providers []string  `json:"providers"`
	Topics    []string  `json:"topics"`
	Since     time.Time `json:"since"`
	MaxTotal  int       `json:"max_total"`
	PageSize  int       `json:"page_size"`
	Policy    Policy    `json:"policy"`
	DryRun    bool      `json:"dry_run,omitempty"`
}

// ProviderStats summarizes one provider's contribution to a run.
type ProviderStats struct {
	Provider string `json:"provider"`
	Fetched  int    `json:"fetched"`
	Error    string `json:"error,omitempty"`
}

// RunResult holds the counters of a finished (or interrupted) run.
type RunResult struct {
	Fetched   int             `json:"fetched"`
	Refined   int             `json:"refined"`
	Kept      int             `json:"kept"`
	Unique    int             `json:"unique"`
	Inserted  int             `json:"inserted"`
	Skipped   int             `json:"skipped"`
	Providers []ProviderStats `json:"providers"`
}

// IngestRun is a persisted record of one pipeline execution.
type IngestRun struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Params    RunParams  `json:"params"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
