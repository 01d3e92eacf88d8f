package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/caselaw-cli/internal/model"
)

// persist upserts records in chunks of BatchSize. A failed chunk is logged and
// counted as skipped. On cancellation the current and remaining chunks are
// counted as skipped and the context error is returned.
func (p *Pipeline) persist(ctx context.Context, records []model.Record) (inserted, skipped int, err error) {
	size := p.cfg.BatchSize
	for start := 0; start < len(records); start += size {
		if ctx.Err() != nil {
			return inserted, skipped + len(records) - start, ctx.Err()
		}
		end := min(start+size, len(records))
		chunk := records[start:end]

		n, upsertErr := p.sink.UpsertOpinions(ctx, chunk)
		if upsertErr != nil {
			if ctx.Err() != nil {
				return inserted, skipped + len(records) - start, ctx.Err()
			}
			zap.L().Error("pipeline: batch upsert failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(chunk)),
				zap.Error(upsertErr),
			)
			skipped += len(chunk)
			continue
		}
		inserted += n
		zap.L().Debug("pipeline: batch upserted",
			zap.Int("batch_start", start),
			zap.Int("rows", n),
		)
	}
	return inserted, skipped, nil
}
