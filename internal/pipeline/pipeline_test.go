package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/caselaw-cli/internal/embed"
	"github.com/sells-group/caselaw-cli/internal/heuristics"
	"github.com/sells-group/caselaw-cli/internal/model"
	"github.com/sells-group/caselaw-cli/internal/source"
)

type fakeProvider struct {
	name string
	ops  []model.Opinion
	err  error

	mu   sync.Mutex
	reqs []source.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, req source.Request) ([]model.Opinion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.ops) > req.MaxResults {
		return f.ops[:req.MaxResults], nil
	}
	return f.ops, nil
}

type fakeSink struct {
	mu      sync.Mutex
	failOn  map[int]bool
	calls   int
	batches [][]model.Record
	cancel  context.CancelFunc
}

func (f *fakeSink) UpsertOpinions(_ context.Context, records []model.Record) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.cancel != nil && f.calls == 2 {
		f.cancel()
		return 0, context.Canceled
	}
	if f.failOn[f.calls] {
		return 0, errors.New("deadlock detected")
	}
	f.batches = append(f.batches, records)
	return len(records), nil
}

func (f *fakeSink) all() []model.Record {
	var out []model.Record
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, f.err }
func (f failingEmbedder) Dim() int                                             { return 8 }

type fakeRefiner struct{ outcome model.Outcome }

func (f fakeRefiner) Refine(_ context.Context, ops []model.Opinion) ([]model.Opinion, int, error) {
	out := make([]model.Opinion, len(ops))
	n := 0
	for i, op := range ops {
		if op.Outcome == model.OutcomeUnknown {
			op.Outcome = f.outcome
			n++
		}
		out[i] = op
	}
	return out, n, nil
}

func opinion(name, cite string, outcome model.Outcome) model.Opinion {
	return model.Opinion{
		CaseName:   name,
		Citation:   cite,
		Outcome:    outcome,
		Summary:    name + " summary",
		Holding:    name + " holding",
		Tags:       []string{"misc"},
		Provider:   "fake",
		SourceLink: "https://example.com/" + name,
	}
}

func manyOpinions(prefix string, n int) []model.Opinion {
	out := make([]model.Opinion, n)
	for i := range n {
		out[i] = opinion(fmt.Sprintf("%s %d", prefix, i), fmt.Sprintf("%d F.4th %d", i, i), model.OutcomeWon)
	}
	return out
}

func newTestPipeline(sink *fakeSink, refiner Refiner, providers ...source.Provider) *Pipeline {
	return New(source.NewRegistry(providers...), embed.NewGateway(nil, 8), sink, refiner, Config{})
}

func TestBudget(t *testing.T) {
	assert.Equal(t, 10, Budget(30, 3))
	assert.Equal(t, 11, Budget(31, 3))
	assert.Equal(t, 1, Budget(0, 3))
	assert.Equal(t, 1, Budget(2, 5))
	assert.Equal(t, 7, Budget(7, 0))
}

func TestRun_OutcomePolicy(t *testing.T) {
	mixed := []model.Opinion{
		opinion("Won", "1 U.S. 1", model.OutcomeWon),
		opinion("Lost", "2 U.S. 2", model.OutcomeLost),
		opinion("Unknown", "3 U.S. 3", model.OutcomeUnknown),
	}

	tests := []struct {
		name   string
		policy model.Policy
		want   []string
	}{
		{"wins only", model.Policy{}, []string{"Won"}},
		{"with unknown", model.Policy{IncludeUnknown: true}, []string{"Won", "Unknown"}},
		{"with lost", model.Policy{IncludeLost: true}, []string{"Won", "Lost"}},
		{"everything", model.Policy{IncludeUnknown: true, IncludeLost: true}, []string{"Won", "Lost", "Unknown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: mixed})

			res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10, Policy: tt.policy})
			require.NoError(t, err)
			assert.Equal(t, 3, res.Fetched)
			assert.Equal(t, len(tt.want), res.Kept)
			assert.Equal(t, len(tt.want), res.Inserted)

			var names []string
			for _, r := range sink.all() {
				names = append(names, r.CaseName)
				assert.Len(t, r.Embedding, 8)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRun_OutcomePolicyFromOpinionText(t *testing.T) {
	bodies := []struct{ name, text string }{
		{"Reversed", "We reverse and remand. The officers committed a violation of due process."},
		{"Affirmed", "We affirmed the dismissal of the complaint."},
		{"Pending", "The parties filed supplemental briefing on standing."},
	}
	var ops []model.Opinion
	for i, b := range bodies {
		op := opinion(b.name, fmt.Sprintf("%d F.3d %d", i+1, i+1), heuristics.ClassifyOutcome(b.text))
		op.Holding = b.text
		ops = append(ops, op)
	}
	require.Equal(t, model.OutcomeWon, ops[0].Outcome)
	require.Equal(t, model.OutcomeLost, ops[1].Outcome)
	require.Equal(t, model.OutcomeUnknown, ops[2].Outcome)

	tests := []struct {
		name   string
		policy model.Policy
		want   []string
	}{
		{"wins only", model.Policy{}, []string{"Reversed"}},
		{"wins and unknown", model.Policy{IncludeUnknown: true}, []string{"Reversed", "Pending"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: ops})

			res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10, Policy: tt.policy})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), res.Inserted)

			var names []string
			for _, r := range sink.all() {
				names = append(names, r.CaseName)
				assert.NotEqual(t, model.OutcomeLost, r.Outcome)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRun_BudgetAndProviderOrder(t *testing.T) {
	a := &fakeProvider{name: "a", ops: manyOpinions("A", 10)}
	b := &fakeProvider{name: "b", ops: manyOpinions("B", 10)}
	// Distinct citations across providers.
	for i := range b.ops {
		b.ops[i].Citation = fmt.Sprintf("%d S. Ct. %d", i, i)
	}
	sink := &fakeSink{}
	p := newTestPipeline(sink, nil, a, b)

	res, err := p.Run(context.Background(), Params{Providers: []string{"b", "a"}, MaxTotal: 5})
	require.NoError(t, err)

	require.Len(t, a.reqs, 1)
	assert.Equal(t, 3, a.reqs[0].MaxResults)
	assert.Equal(t, 6, res.Fetched)
	require.Len(t, res.Providers, 2)
	assert.Equal(t, "b", res.Providers[0].Provider)
	assert.Equal(t, 3, res.Providers[0].Fetched)

	got := sink.all()
	require.Len(t, got, 6)
	assert.Equal(t, "B 0", got[0].CaseName)
	assert.Equal(t, "A 0", got[3].CaseName)
}

func TestRun_DedupLastWriteWins(t *testing.T) {
	first := opinion("First", "5 U.S. 137", model.OutcomeWon)
	other := opinion("Other", "6 U.S. 1", model.OutcomeWon)
	second := opinion("Second", "5  U.S.  137", model.OutcomeWon)
	second.Provider = "b"

	sink := &fakeSink{}
	p := newTestPipeline(sink, nil,
		&fakeProvider{name: "a", ops: []model.Opinion{first, other}},
		&fakeProvider{name: "b", ops: []model.Opinion{second}},
	)

	res, err := p.Run(context.Background(), Params{Providers: []string{"a", "b"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Kept)
	assert.Equal(t, 2, res.Unique)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "Second", got[0].CaseName)
	assert.Equal(t, "Other", got[1].CaseName)
}

func TestRun_FailingProviderRecorded(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, nil,
		&fakeProvider{name: "bad", err: errors.New("courtlistener: 503")},
		&fakeProvider{name: "good", ops: manyOpinions("G", 2)},
	)

	res, err := p.Run(context.Background(), Params{Providers: []string{"bad", "good"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "courtlistener: 503", res.Providers[0].Error)
	assert.Equal(t, 0, res.Providers[0].Fetched)
	assert.Equal(t, 2, res.Providers[1].Fetched)
}

func TestRun_BatchFailureCountsSkipped(t *testing.T) {
	sink := &fakeSink{failOn: map[int]bool{2: true}}
	p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: manyOpinions("A", 150)})

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 150})
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, 100, res.Inserted)
	assert.Equal(t, 50, res.Skipped)
	assert.Equal(t, res.Unique, res.Inserted+res.Skipped)
}

func TestRun_CustomBatchSize(t *testing.T) {
	sink := &fakeSink{}
	p := New(source.NewRegistry(&fakeProvider{name: "a", ops: manyOpinions("A", 7)}),
		embed.NewGateway(nil, 4), sink, nil, Config{BatchSize: 3})

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Inserted)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[2], 1)
}

func TestRun_CancelledDuringPersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fakeSink{cancel: cancel}
	p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: manyOpinions("A", 150)})

	res, err := p.Run(ctx, Params{Providers: []string{"a"}, MaxTotal: 150})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 50, res.Inserted)
	assert.Equal(t, 100, res.Skipped)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &fakeSink{}
	p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: manyOpinions("A", 3)})

	res, err := p.Run(ctx, Params{Providers: []string{"a"}, MaxTotal: 3})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, sink.calls)
}

func TestRun_EmbeddingFailureSkipsEverything(t *testing.T) {
	sink := &fakeSink{}
	p := New(source.NewRegistry(&fakeProvider{name: "a", ops: manyOpinions("A", 4)}),
		failingEmbedder{err: errors.New("embed: boom")}, sink, nil, Config{})

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, sink.calls)
}

func TestRun_DryRunDoesNotWrite(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, nil, &fakeProvider{name: "a", ops: manyOpinions("A", 4)})

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Unique)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, sink.calls)
}

func TestRun_RefinerPromotesUnknown(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, fakeRefiner{outcome: model.OutcomeWon},
		&fakeProvider{name: "a", ops: []model.Opinion{
			opinion("U", "1 U.S. 1", model.OutcomeUnknown),
			opinion("L", "2 U.S. 2", model.OutcomeLost),
		}},
	)

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refined)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, model.OutcomeWon, sink.all()[0].Outcome)
}

func TestRun_NoValidProviders(t *testing.T) {
	p := newTestPipeline(&fakeSink{}, nil, &fakeProvider{name: "a"})

	_, err := p.Run(context.Background(), Params{Providers: []string{"westlaw"}, MaxTotal: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid providers")
}

func TestRun_NothingFetched(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, nil, &fakeProvider{name: "a"})

	res, err := p.Run(context.Background(), Params{Providers: []string{"a"}, MaxTotal: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Unique)
	assert.Equal(t, 0, sink.calls)
}
