package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/caselaw-cli/internal/config"
	"github.com/sells-group/caselaw-cli/internal/embed"
	"github.com/sells-group/caselaw-cli/internal/heuristics"
	"github.com/sells-group/caselaw-cli/internal/model"
	"github.com/sells-group/caselaw-cli/internal/pipeline"
	"github.com/sells-group/caselaw-cli/internal/refine"
	"github.com/sells-group/caselaw-cli/internal/store"
	anthropicpkg "github.com/sells-group/caselaw-cli/pkg/anthropic"
	"github.com/sells-group/caselaw-cli/pkg/openai"
)

// completeTimeout bounds the run log write after the pipeline returns,
// including after an interrupt.
const completeTimeout = 10 * time.Second

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, classify, dedup, embed, and store opinions",
	Long:  "Runs one ingest across the selected providers. Results are upserted by citation and recorded in the run log unless --dry-run is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		params, err := ingestParams(cmd, cfg, time.Now())
		if err != nil {
			return err
		}
		refineUnknown, _ := cmd.Flags().GetBool("refine-unknown")

		var st store.Store
		var sink store.Sink
		if !params.DryRun {
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			sink = st
		}

		p := pipeline.New(buildRegistry(cfg), buildEmbedder(cfg), sink, buildRefiner(cfg, refineUnknown), pipeline.Config{
			BatchSize:           cfg.Pipeline.BatchSize,
			ProviderConcurrency: cfg.Pipeline.ProviderConcurrency,
		})

		if params.DryRun {
			result, err := p.Run(ctx, params)
			if result != nil {
				formatRunResult(cmd.OutOrStdout(), result)
			}
			return err
		}

		return runRecorded(ctx, st, p, params, cmd.OutOrStdout())
	},
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

func addIngestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("providers", "", "comma-separated providers (default from config: courtlistener,govinfo)")
	f.String("topics", "", "comma-separated topic keywords")
	f.String("topic-preset", "", "named topic list (built-in or from --topics-file)")
	f.String("topics-file", "", "YAML file with named topic presets")
	f.Int("days", 0, "only opinions decided in the last N days (default from config: 365)")
	f.Int("max", 0, "maximum records across all providers (default from config: 600)")
	f.Int("page-size", 0, "requested page size per provider call (default from config: 50)")
	f.Bool("include-unknown", false, "keep opinions with an UNKNOWN outcome")
	f.Bool("include-lost", false, "keep opinions with a LOST outcome")
	f.Bool("only-wins", false, "keep WON opinions only, overriding config and the include flags")
	f.Bool("refine-unknown", false, "ask Claude to classify UNKNOWN outcomes (needs an Anthropic key)")
	f.Bool("dry-run", false, "fetch, filter, dedup, and embed without writing")
}

// ingestParams merges flags over config defaults. A flag wins only when set.
func ingestParams(cmd *cobra.Command, c *config.Config, now time.Time) (model.RunParams, error) {
	flags := cmd.Flags()

	providers := c.Ingest.Providers
	if flags.Changed("providers") {
		providers, _ = flags.GetString("providers")
	}
	days := c.Ingest.Days
	if flags.Changed("days") {
		days, _ = flags.GetInt("days")
	}
	maxTotal := c.Ingest.Max
	if flags.Changed("max") {
		maxTotal, _ = flags.GetInt("max")
	}
	pageSize := c.Ingest.PageSize
	if flags.Changed("page-size") {
		pageSize, _ = flags.GetInt("page-size")
	}

	if days <= 0 {
		return model.RunParams{}, eris.Errorf("ingest: --days must be positive, got %d", days)
	}
	if maxTotal <= 0 {
		return model.RunParams{}, eris.Errorf("ingest: --max must be positive, got %d", maxTotal)
	}
	if pageSize <= 0 {
		return model.RunParams{}, eris.Errorf("ingest: --page-size must be positive, got %d", pageSize)
	}

	names := heuristics.SplitList(strings.ToLower(providers))
	if len(names) == 0 {
		return model.RunParams{}, eris.New("ingest: no providers given")
	}

	topics, err := resolveTopics(cmd, c)
	if err != nil {
		return model.RunParams{}, err
	}

	policy := model.Policy{
		IncludeUnknown: c.Ingest.IncludeUnknown,
		IncludeLost:    c.Ingest.IncludeLost,
	}
	if flags.Changed("include-unknown") {
		policy.IncludeUnknown, _ = flags.GetBool("include-unknown")
	}
	if flags.Changed("include-lost") {
		policy.IncludeLost, _ = flags.GetBool("include-lost")
	}
	if onlyWins, _ := flags.GetBool("only-wins"); onlyWins {
		policy = model.Policy{}
	}

	dryRun, _ := flags.GetBool("dry-run")

	// Providers report decision dates without a time, so the window opens at
	// midnight UTC of the first day.
	y, m, d := now.UTC().AddDate(0, 0, -days).Date()

	return model.RunParams{
		Providers: names,
		Topics:    topics,
		Since:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		MaxTotal:  maxTotal,
		PageSize:  pageSize,
		Policy:    policy,
		DryRun:    dryRun,
	}, nil
}

// resolveTopics picks --topics, then --topic-preset, then the configured list.
func resolveTopics(cmd *cobra.Command, c *config.Config) ([]string, error) {
	flags := cmd.Flags()
	explicit := flags.Changed("topics")
	preset, _ := flags.GetString("topic-preset")

	if explicit && preset != "" {
		return nil, eris.New("ingest: use either --topics or --topic-preset, not both")
	}
	if explicit {
		raw, _ := flags.GetString("topics")
		return heuristics.SplitList(raw), nil
	}
	if preset != "" {
		path := c.Ingest.TopicsFile
		if flags.Changed("topics-file") {
			path, _ = flags.GetString("topics-file")
		}
		presets, err := config.LoadTopicPresets(path)
		if err != nil {
			return nil, err
		}
		return presets.Resolve(preset)
	}
	return heuristics.SplitList(c.Ingest.Topics), nil
}

// buildEmbedder uses the remote backend when a key is configured and the
// deterministic local embedding otherwise.
func buildEmbedder(c *config.Config) embed.Embedder {
	var client openai.Client
	if c.Embed.APIKey != "" {
		client = openai.NewClient(c.Embed.APIKey,
			openai.WithBaseURL(c.Embed.BaseURL),
			openai.WithModel(c.Embed.Model),
		)
	} else {
		zap.L().Warn("embedding key not set, using local embeddings")
	}
	return embed.NewGateway(client, c.Embed.Dim)
}

// buildRefiner returns nil unless refinement was requested and a key is set.
func buildRefiner(c *config.Config, requested bool) pipeline.Refiner {
	if !requested {
		return nil
	}
	if c.Anthropic.Key == "" {
		zap.L().Warn("--refine-unknown set but anthropic key missing, skipping refinement")
		return nil
	}
	return refine.New(anthropicpkg.NewClient(c.Anthropic.Key), refine.Config{
		Model:       c.Anthropic.Model,
		Concurrency: c.Pipeline.RefineConcurrency,
	})
}

// runner is satisfied by *pipeline.Pipeline.
type runner interface {
	Run(ctx context.Context, params pipeline.Params) (*model.RunResult, error)
}

// runRecorded wraps a pipeline run with run log bookkeeping.
func runRecorded(ctx context.Context, st store.Store, p runner, params model.RunParams, out io.Writer) error {
	run, err := st.CreateRun(ctx, params)
	if err != nil {
		return eris.Wrap(err, "ingest: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("ingest run started", zap.Strings("providers", params.Providers))

	result, runErr := p.Run(ctx, params)
	status := runStatus(runErr)

	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}

	// The run context may already be cancelled; the log write must still land.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	if err := st.CompleteRun(cctx, run.ID, status, result, msg); err != nil {
		log.Error("failed to record run outcome", zap.Error(err))
	}

	if result != nil {
		formatRunResult(out, result)
	}
	_, _ = fmt.Fprintf(out, "Run %s: %s\n", run.ID, status)

	if runErr != nil {
		log.Warn("ingest run ended early", zap.String("status", string(status)), zap.Error(runErr))
	}
	return runErr
}

func runStatus(err error) model.RunStatus {
	switch {
	case err == nil:
		return model.RunStatusComplete
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.RunStatusInterrupted
	default:
		return model.RunStatusFailed
	}
}

// formatRunResult writes the run counters and per-provider stats to out.
func formatRunResult(out io.Writer, r *model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Fetched:\t%d\n", r.Fetched)
	if r.Refined > 0 {
		_, _ = fmt.Fprintf(w, "Refined:\t%d\n", r.Refined)
	}
	_, _ = fmt.Fprintf(w, "Kept:\t%d\n", r.Kept)
	_, _ = fmt.Fprintf(w, "Unique:\t%d\n", r.Unique)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", r.Inserted)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped)
	for _, ps := range r.Providers {
		line := fmt.Sprintf("  %s:\t%d", ps.Provider, ps.Fetched)
		if ps.Error != "" {
			line += " (error: " + ps.Error + ")"
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_ = w.Flush()
}
