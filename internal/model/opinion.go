package model

import (
	"time"

	"github.com/sells-group/caselaw-cli/internal/heuristics"
)

// Outcome is the heuristically classified litigation result of an opinion.
type Outcome = heuristics.Outcome

const (
	OutcomeWon     = heuristics.OutcomeWon
	OutcomeLost    = heuristics.OutcomeLost
	OutcomeUnknown = heuristics.OutcomeUnknown
)

// Opinion is a candidate opinion produced by a source provider. Values are
// treated as immutable once a provider returns them.
type Opinion struct {
	CaseName     string    `json:"case_name"`
	Jurisdiction string    `json:"jurisdiction"`
	Court        string    `json:"court_level"`
	Summary      string    `json:"summary"`
	Holding      string    `json:"holding"`
	Citation     string    `json:"citation,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Tags         []string  `json:"tags"`
	SourceLink   string    `json:"source_link"`
	Provider     string    `json:"provider"`
	DecidedAt    time.Time `json:"decided_at"`
}

// DedupKey returns the canonical identity of the opinion: its normalized
// citation when present, otherwise a stable hash of case name and link.
func (o Opinion) DedupKey() string {
	if c := heuristics.NormalizeCitation(o.Citation); c != "" {
		return c
	}
	return heuristics.StableKey(o.CaseName, o.SourceLink)
}

// EmbeddingText is the text fed to the embedding gateway.
func (o Opinion) EmbeddingText() string {
	return o.Summary + "\n" + o.Holding
}

// Record is an opinion ready for persistence.
type Record struct {
	Opinion
	Embedding []float32 `json:"vector_embedding"`
}

// StorageCitation is the value written to the unique citation column. Opinions
// without a citation are keyed by their dedup hash so the upsert key is never empty.
func (r Record) StorageCitation() string {
	return r.DedupKey()
}
