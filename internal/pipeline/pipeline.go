// Package pipeline drives one ingest run: fetch from providers, refine,
// filter, dedup, embed, and persist in chunks.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/caselaw-cli/internal/embed"
	"github.com/sells-group/caselaw-cli/internal/model"
	"github.com/sells-group/caselaw-cli/internal/source"
	"github.com/sells-group/caselaw-cli/internal/store"
)

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize           = 50
	DefaultProviderConcurrency = 3
)

// Config tunes the orchestrator.
type Config struct {
	BatchSize           int
	ProviderConcurrency int
}

// Refiner gives a second opinion on UNKNOWN outcomes.
type Refiner interface {
	Refine(ctx context.Context, ops []model.Opinion) ([]model.Opinion, int, error)
}

// Params describes one run.
type Params = model.RunParams

// Pipeline orchestrates an ingest run.
type Pipeline struct {
	registry *source.Registry
	embedder embed.Embedder
	sink     store.Sink
	refiner  Refiner
	cfg      Config
}

// New creates a Pipeline. refiner may be nil.
func New(registry *source.Registry, embedder embed.Embedder, sink store.Sink, refiner Refiner, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ProviderConcurrency <= 0 {
		cfg.ProviderConcurrency = DefaultProviderConcurrency
	}
	return &Pipeline{
		registry: registry,
		embedder: embedder,
		sink:     sink,
		refiner:  refiner,
		cfg:      cfg,
	}
}

// Budget splits maxTotal across n providers: max(1, ceil(maxTotal/n)).
func Budget(maxTotal, n int) int {
	if n <= 0 {
		return max(1, maxTotal)
	}
	return max(1, (maxTotal+n-1)/n)
}

// Run executes the pipeline. Provider, embedding, and batch failures are
// recorded in the result rather than returned. On cancellation Run returns
// the partial result together with the context error.
func (p *Pipeline) Run(ctx context.Context, params Params) (*model.RunResult, error) {
	providers, err := p.registry.Select(params.Providers)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: select providers")
	}

	log := zap.L().With(zap.Int("providers", len(providers)), zap.Int("max_total", params.MaxTotal))
	log.Info("pipeline: starting ingest")
	start := time.Now()

	result := &model.RunResult{}

	// Fetch.
	ops, stats := p.fetchAll(ctx, providers, source.Request{
		Since:      params.Since,
		Topics:     params.Topics,
		MaxResults: Budget(params.MaxTotal, len(providers)),
		PageSize:   params.PageSize,
	})
	result.Providers = stats
	result.Fetched = len(ops)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Refine.
	if p.refiner != nil {
		refined, changed, err := p.refiner.Refine(ctx, ops)
		if err != nil {
			return result, err
		}
		ops = refined
		result.Refined = changed
	}

	// Filter and dedup.
	kept := FilterByPolicy(ops, params.Policy)
	result.Kept = len(kept)
	unique := Dedup(kept)
	result.Unique = len(unique)

	log.Info("pipeline: candidates ready",
		zap.Int("fetched", result.Fetched),
		zap.Int("kept", result.Kept),
		zap.Int("unique", result.Unique),
	)
	if len(unique) == 0 {
		return result, nil
	}

	// Embed.
	records, err := p.embedAll(ctx, unique)
	if err != nil {
		result.Skipped = len(unique)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Error("pipeline: embedding failed, nothing persisted", zap.Error(err))
		return result, nil
	}

	if params.DryRun {
		log.Info("pipeline: dry run, skipping writes", zap.Int("records", len(records)))
		return result, nil
	}

	// Persist.
	inserted, skipped, err := p.persist(ctx, records)
	result.Inserted = inserted
	result.Skipped = skipped

	log.Info("pipeline: ingest complete",
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result, err
}

// fetchAll runs providers concurrently and concatenates their output in
// provider order. A failing provider contributes nothing.
func (p *Pipeline) fetchAll(ctx context.Context, providers []source.Provider, req source.Request) ([]model.Opinion, []model.ProviderStats) {
	results := make([][]model.Opinion, len(providers))
	stats := make([]model.ProviderStats, len(providers))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ProviderConcurrency)

	for i, prov := range providers {
		stats[i].Provider = prov.Name()
		g.Go(func() error {
			start := time.Now()
			ops, err := prov.Fetch(gCtx, req)
			if err != nil {
				stats[i].Error = err.Error()
				zap.L().Warn("pipeline: provider failed",
					zap.String("provider", prov.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = ops
			stats[i].Fetched = len(ops)
			zap.L().Info("pipeline: provider complete",
				zap.String("provider", prov.Name()),
				zap.Int("fetched", len(ops)),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return nil
		})
	}
	_ = g.Wait()

	var total int
	for _, r := range results {
		total += len(r)
	}
	all := make([]model.Opinion, 0, total)
	for _, r := range results {
		all = append(all, r...)
	}
	return all, stats
}

// embedAll embeds every opinion with a single gateway call.
func (p *Pipeline) embedAll(ctx context.Context, ops []model.Opinion) ([]model.Record, error) {
	texts := make([]string, len(ops))
	for i, op := range ops {
		texts[i] = op.EmbeddingText()
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(ops) {
		return nil, eris.Errorf("pipeline: embed returned %d vectors for %d texts", len(vecs), len(ops))
	}
	records := make([]model.Record, len(ops))
	for i, op := range ops {
		records[i] = model.Record{Opinion: op, Embedding: vecs[i]}
	}
	return records, nil
}
