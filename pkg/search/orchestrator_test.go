package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/trace"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func obs(id, project string, importance int) *store.Observation {
	return &store.Observation{
		ID:         id,
		SessionID:  "sess",
		Project:    project,
		Type:       store.TypeDiscovery,
		Title:      "title " + id,
		Importance: importance,
		CreatedAt:  baseTime,
	}
}

type fakeLexical struct {
	hits []store.LexicalHit
	err  error
	opts store.LexicalOptions
}

func (f *fakeLexical) Lexical(ctx context.Context, query string, opts store.LexicalOptions) ([]store.LexicalHit, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeRecords map[string]*store.Observation

func (f fakeRecords) GetByID(ctx context.Context, id string) (*store.Observation, error) {
	return f[id], nil
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	block bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := f.EmbedOne(ctx, texts[0])
	if err != nil {
		return nil, err
	}
	return [][]float32{v}, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func settingsWith(mod func(*Settings)) func() Settings {
	return func() Settings {
		s := DefaultSettings()
		mod(&s)
		return s
	}
}

func TestSearch_LexicalOnlyNormalizesAndRanks(t *testing.T) {
	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: obs("a", "p", 3), BM25: -10, Snippet: "[a]"},
		{Observation: obs("b", "p", 3), BM25: -5},
	}}
	o := New(Options{Lexical: lex})

	results := o.Search(context.Background(), nil, "query", Filters{Project: "p", Limit: 5})
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Observation.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, "[a]", results[0].Snippet)
	assert.Equal(t, StrategyLexical, results[0].Explain.Strategy)
	assert.Equal(t, []string{StageLexical}, results[0].Explain.MatchedBy)
	assert.Equal(t, StageLexical, results[0].Source)

	assert.Equal(t, "p", lex.opts.Project)
	assert.Equal(t, minOverFetch, lex.opts.Limit, "small limits over-fetch at least 30")
}

func TestSearch_OverFetchScalesWithLimit(t *testing.T) {
	lex := &fakeLexical{}
	o := New(Options{Lexical: lex})

	o.Search(context.Background(), nil, "q", Filters{Limit: 50})
	assert.Equal(t, 150, lex.opts.Limit)
}

func TestSearch_LimitDefaultsAndClamps(t *testing.T) {
	hits := make([]store.LexicalHit, 0, 40)
	for i := 0; i < 40; i++ {
		hits = append(hits, store.LexicalHit{Observation: obs(string(rune('A'+i)), "p", 3), BM25: -float64(40 - i)})
	}
	lex := &fakeLexical{hits: hits}
	o := New(Options{Lexical: lex, Settings: settingsWith(func(s *Settings) {
		s.DefaultLimit = 7
		s.MaxLimit = 10
	})})

	assert.Len(t, o.Search(context.Background(), nil, "q", Filters{}), 7)
	assert.Len(t, o.Search(context.Background(), nil, "q", Filters{Limit: 500}), 10)
}

func TestSearch_BackendErrorYieldsEmptyList(t *testing.T) {
	o := New(Options{Lexical: &fakeLexical{err: errors.New("fts5: syntax error")}})

	results := o.Search(context.Background(), nil, "\"(", Filters{})
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_HybridMergesStages(t *testing.T) {
	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: obs("lex-and-sim", "p", 3), BM25: -4},
		{Observation: obs("lex-only", "p", 3), BM25: -2},
	}}
	vectors := store.NewMemoryVectorStore()
	ctx := context.Background()
	require.NoError(t, vectors.Add(ctx, "lex-and-sim", []float32{1, 0}))
	require.NoError(t, vectors.Add(ctx, "sim-only", []float32{1, 0}))
	require.NoError(t, vectors.Add(ctx, "other-project", []float32{1, 0}))
	require.NoError(t, vectors.Add(ctx, "stale", []float32{1, 0}))

	records := fakeRecords{
		"sim-only":      obs("sim-only", "p", 3),
		"other-project": obs("other-project", "q", 3),
	}
	o := New(Options{
		Lexical:  lex,
		Records:  records,
		Embedder: &fakeEmbedder{vec: []float32{1, 0}},
		Vectors:  vectors,
		Settings: settingsWith(func(s *Settings) { s.SimilarityEnabled = true }),
	})

	results := o.Search(ctx, nil, "q", Filters{Project: "p"})
	require.Len(t, results, 3)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.Observation.ID] = r
		assert.Equal(t, StrategyHybrid, r.Explain.Strategy)
	}
	assert.NotContains(t, byID, "other-project")
	assert.NotContains(t, byID, "stale")

	both := byID["lex-and-sim"]
	assert.Equal(t, StrategyHybrid, both.Source)
	assert.Equal(t, []string{StageLexical, StageSimilarity}, both.Explain.MatchedBy)
	assert.InDelta(t, 1.0, both.Score, 1e-6)

	assert.Equal(t, StageSimilarity, byID["sim-only"].Source)
	assert.InDelta(t, 0.4, byID["sim-only"].Score, 1e-6)
	assert.Equal(t, StageLexical, byID["lex-only"].Source)
	assert.InDelta(t, 0.3, byID["lex-only"].Score, 1e-6)

	assert.Equal(t, "lex-and-sim", results[0].Observation.ID)
}

func TestSearch_SimilarityTimeoutFailsOpen(t *testing.T) {
	lex := &fakeLexical{hits: []store.LexicalHit{{Observation: obs("a", "p", 3), BM25: -1}}}
	o := New(Options{
		Lexical:  lex,
		Records:  fakeRecords{},
		Embedder: &fakeEmbedder{block: true},
		Vectors:  store.NewMemoryVectorStore(),
		Settings: settingsWith(func(s *Settings) {
			s.SimilarityEnabled = true
			s.SimilarityTimeout = 20 * time.Millisecond
		}),
	})

	start := time.Now()
	op := trace.Start("search")
	results := o.Search(context.Background(), op, "q", Filters{})
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, StrategyLexical, results[0].Explain.Strategy)

	spans := op.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, "search-lexical", spans[0].Name)
	assert.Equal(t, "search-similarity", spans[1].Name)
	assert.False(t, spans[1].OK)
}

func TestSearch_SimilarityDisabledSkipsEmbedder(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("should not be called")}
	o := New(Options{
		Lexical:  &fakeLexical{},
		Records:  fakeRecords{},
		Embedder: emb,
		Vectors:  store.NewMemoryVectorStore(),
	})
	op := trace.Start("search")
	o.Search(context.Background(), op, "q", Filters{})
	assert.Len(t, op.Spans(), 1)
}

func TestSearch_RecencyDecay(t *testing.T) {
	old := obs("old", "p", 3)
	old.CreatedAt = baseTime.Add(-20 * 24 * time.Hour)
	fresh := obs("fresh", "p", 3)

	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: old, BM25: -10},
		{Observation: fresh, BM25: -8},
	}}
	o := New(Options{
		Lexical:  lex,
		Now:      func() time.Time { return baseTime },
		Settings: settingsWith(func(s *Settings) { s.RecencyHalfLifeDays = 10 }),
	})

	results := o.Search(context.Background(), nil, "q", Filters{})
	require.Len(t, results, 2)
	assert.Equal(t, "fresh", results[0].Observation.ID)
	assert.InDelta(t, 0.25, results[1].Score, 1e-9)
}

func TestSearch_PostFilters(t *testing.T) {
	low := obs("low", "p", 1)
	high := obs("high", "p", 5)
	high.Concepts = []string{"SQLite"}
	high.FilesModified = []string{"pkg/store/db.go"}
	late := obs("late", "p", 4)
	late.CreatedAt = baseTime.Add(48 * time.Hour)

	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: low, BM25: -3},
		{Observation: high, BM25: -2},
		{Observation: late, BM25: -1},
	}}
	o := New(Options{Lexical: lex})
	ctx := context.Background()
	until := baseTime.Add(time.Hour)

	ids := func(results []Result) []string {
		var out []string
		for _, r := range results {
			out = append(out, r.Observation.ID)
		}
		return out
	}

	assert.Equal(t, []string{"high", "late"}, ids(o.Search(ctx, nil, "q", Filters{MinImportance: 4})))
	assert.Equal(t, []string{"low", "high"}, ids(o.Search(ctx, nil, "q", Filters{Until: &until})))
	assert.Equal(t, []string{"high"}, ids(o.Search(ctx, nil, "q", Filters{Concepts: []string{"sqlite"}})))
	assert.Equal(t, []string{"high"}, ids(o.Search(ctx, nil, "q", Filters{Files: []string{"pkg/store/db.go"}})))

	results := o.Search(ctx, nil, "q", Filters{MaxImportance: 4, MinImportance: 2})
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Rank, "ranks are assigned after filtering")
}

type failingReranker struct{}

func (failingReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	return nil, errors.New("model unavailable")
}

type droppingReranker struct{}

func (droppingReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	return results[:1], nil
}

func TestSearch_RerankFailuresAreTransparent(t *testing.T) {
	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: obs("a", "p", 3), BM25: -2},
		{Observation: obs("b", "p", 3), BM25: -1},
	}}

	for name, rr := range map[string]Reranker{"error": failingReranker{}, "short": droppingReranker{}} {
		t.Run(name, func(t *testing.T) {
			o := New(Options{
				Lexical:  lex,
				Reranker: rr,
				Settings: settingsWith(func(s *Settings) { s.RerankEnabled = true }),
			})
			results := o.Search(context.Background(), nil, "q", Filters{})
			require.Len(t, results, 2)
			assert.Equal(t, "a", results[0].Observation.ID)
			assert.False(t, results[0].Explain.Reranked)
		})
	}
}

func TestSearch_TermOverlapRerank(t *testing.T) {
	partial := obs("partial", "p", 3)
	partial.Title = "connection pool"
	full := obs("full", "p", 3)
	full.Title = "connection"
	full.Facts = []string{"pool size is 1"}
	full.Concepts = []string{"timeout"}

	lex := &fakeLexical{hits: []store.LexicalHit{
		{Observation: partial, BM25: -5},
		{Observation: full, BM25: -1},
	}}
	o := New(Options{
		Lexical:  lex,
		Reranker: TermOverlapReranker{},
		Settings: settingsWith(func(s *Settings) {
			s.RerankEnabled = true
			s.RerankTopN = 500
		}),
	})

	results := o.Search(context.Background(), nil, "connection pool timeout", Filters{})
	require.Len(t, results, 2)
	assert.Equal(t, "full", results[0].Observation.ID)
	assert.True(t, results[0].Explain.Reranked)
	assert.Equal(t, 1, results[0].Rank)
}

func TestRecencyMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		halfLife float64
		want     float64
	}{
		{"zero age", 0, 30, 1.0},
		{"one half-life", 30 * 24 * time.Hour, 30, 0.5},
		{"two half-lives", 60 * 24 * time.Hour, 30, 0.25},
		{"negative age", -time.Hour, 30, 1.0},
		{"disabled", 90 * 24 * time.Hour, 0, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecencyMultiplier(tt.age, tt.halfLife), 1e-9)
		})
	}
}

func TestNormalizeBM25(t *testing.T) {
	assert.InDelta(t, 1.0, normalizeBM25(-3, -3), 1e-9)
	assert.InDelta(t, 0.5, normalizeBM25(-1.5, -3), 1e-9)
	assert.Greater(t, normalizeBM25(0.2, -3), 0.0)
	assert.InDelta(t, 1.0, normalizeBM25(0, 0), 1e-9)
}
