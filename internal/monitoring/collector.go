package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/caselaw-cli/internal/model"
	"github.com/sells-group/caselaw-cli/internal/store"
)

// pageSize is how many runs Collect reads per ListRuns call.
const pageSize = 500

// MetricsSnapshot holds a point-in-time view of ingest health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsInterrupted int     `json:"runs_interrupted"`
	RunsRunning     int     `json:"runs_running"`
	FailRate        float64 `json:"fail_rate"`

	// Record metrics summed over runs with a result.
	Fetched  int     `json:"fetched"`
	Inserted int     `json:"inserted"`
	Skipped  int     `json:"skipped"`
	SkipRate float64 `json:"skip_rate"`

	// ProviderRuns counts runs each provider took part in; ProviderErrors
	// counts the ones where it failed.
	ProviderRuns   map[string]int `json:"provider_runs"`
	ProviderErrors map[string]int `json:"provider_errors"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.IngestRun, error)
}

// Collector gathers metrics from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of ingest metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ProviderRuns:   make(map[string]int),
		ProviderErrors: make(map[string]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs come back newest first; stop at the first one outside the window.
	for offset := 0; ; offset += pageSize {
		runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		for _, r := range runs {
			if r.CreatedAt.Before(cutoff) {
				finish(snap)
				return snap, nil
			}
			add(snap, r)
		}
		if len(runs) < pageSize {
			break
		}
	}

	finish(snap)
	return snap, nil
}

func add(snap *MetricsSnapshot, r model.IngestRun) {
	snap.RunsTotal++
	switch r.Status {
	case model.RunStatusComplete:
		snap.RunsComplete++
	case model.RunStatusFailed:
		snap.RunsFailed++
	case model.RunStatusInterrupted:
		snap.RunsInterrupted++
	case model.RunStatusRunning:
		snap.RunsRunning++
	}
	if r.Result == nil {
		return
	}
	snap.Fetched += r.Result.Fetched
	snap.Inserted += r.Result.Inserted
	snap.Skipped += r.Result.Skipped
	for _, ps := range r.Result.Providers {
		snap.ProviderRuns[ps.Provider]++
		if ps.Error != "" {
			snap.ProviderErrors[ps.Provider]++
		}
	}
}

func finish(snap *MetricsSnapshot) {
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if written := snap.Inserted + snap.Skipped; written > 0 {
		snap.SkipRate = float64(snap.Skipped) / float64(written)
	}
}
