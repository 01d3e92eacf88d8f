// Package refine asks a Claude model for a second opinion on opinions the
// text heuristics could not classify.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/caselaw-cli/internal/heuristics"
	"github.com/sells-group/caselaw-cli/internal/model"
	"github.com/sells-group/caselaw-cli/pkg/anthropic"
)

const systemPrompt = `You classify the outcome of a court opinion from the perspective of the party that brought the appeal or claim. Answer WON if that party obtained relief (reversal, vacatur, remand, or a granted petition), LOST if relief was denied (affirmance, dismissal, denial), and UNKNOWN if the text does not say. Respond with a valid JSON object: {"outcome": "WON" | "LOST" | "UNKNOWN"}`

const userPrompt = `Case: %s
Court: %s

Holding:
%s

Summary (first 3000 chars):
%s`

// DefaultConcurrency bounds concurrent CreateMessage calls.
const DefaultConcurrency = 4

// Config configures a Refiner.
type Config struct {
	Model       string
	Concurrency int
}

// Refiner reclassifies UNKNOWN outcomes with an LLM.
type Refiner struct {
	client anthropic.Client
	cfg    Config
}

// New creates a Refiner.
func New(client anthropic.Client, cfg Config) *Refiner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Model == "" {
		cfg.Model = anthropic.DefaultModel
	}
	return &Refiner{client: client, cfg: cfg}
}

// Refine returns a copy of ops where UNKNOWN outcomes the model could decide
// are replaced, plus the number of records changed. Individual call failures
// leave the record UNKNOWN. Only context cancellation is returned as an error.
func (r *Refiner) Refine(ctx context.Context, ops []model.Opinion) ([]model.Opinion, int, error) {
	out := make([]model.Opinion, len(ops))
	copy(out, ops)

	var targets []int
	for i, op := range out {
		if op.Outcome == model.OutcomeUnknown {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return out, 0, nil
	}

	system := anthropic.BuildCachedSystemBlocks(systemPrompt)
	decided := make([]model.Outcome, len(targets))
	usages := make([]anthropic.TokenUsage, len(targets))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for n, idx := range targets {
		op := out[idx]
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			resp, err := r.client.CreateMessage(gCtx, anthropic.MessageRequest{
				Model:     r.cfg.Model,
				MaxTokens: 32,
				System:    system,
				Messages: []anthropic.Message{
					{Role: "user", Content: buildPrompt(op)},
				},
			})
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("refine: failed to classify opinion",
					zap.String("case_name", op.CaseName),
					zap.String("provider", op.Provider),
					zap.Error(err),
				)
				return nil
			}
			decided[n] = parseOutcome(resp.Text())
			usages[n] = resp.Usage
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, ctx.Err()
	}

	var total anthropic.TokenUsage
	changed := 0
	for n, idx := range targets {
		total.Add(usages[n])
		if decided[n] == model.OutcomeWon || decided[n] == model.OutcomeLost {
			out[idx].Outcome = decided[n]
			changed++
		}
	}
	total.LogCost(r.cfg.Model, "refine")

	zap.L().Info("refine: reclassified unknown outcomes",
		zap.Int("candidates", len(targets)),
		zap.Int("changed", changed),
	)
	return out, changed, nil
}

func buildPrompt(op model.Opinion) string {
	return fmt.Sprintf(userPrompt,
		op.CaseName,
		op.Court,
		op.Holding,
		heuristics.Truncate(op.Summary, 3000),
	)
}

// parseOutcome reads the model's answer, accepting either the JSON object
// or a bare label.
func parseOutcome(text string) model.Outcome {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var v struct {
				Outcome string `json:"outcome"`
			}
			if err := json.Unmarshal([]byte(text[start:end+1]), &v); err == nil {
				text = v.Outcome
			}
		}
	}
	return heuristics.ParseOutcome(strings.ToUpper(strings.TrimSpace(text)))
}
