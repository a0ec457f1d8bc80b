package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/embedding"
	"github.com/theapemachine/mnemo/pkg/memory"
	"golang.org/x/sync/errgroup"
)

type Source string

const (
	SourceSemantic Source = "semantic"
	SourceKeyword  Source = "keyword"
	SourceBoth     Source = "both"
)

/*
KeywordOnlyScore ranks records only the keyword channel found. Combined
scores are never negative, so these always sort last.
*/
const KeywordOnlyScore = -1.0

type Ranked struct {
	Record     *memory.Record `json:"record"`
	Score      float64        `json:"score"`
	Similarity float64        `json:"similarity,omitempty"`
	Source     Source         `json:"source"`
}

type Config struct {
	Threshold     float64       `mapstructure:"threshold"`
	ToolThreshold float64       `mapstructure:"toolThreshold"`
	Limit         int           `mapstructure:"limit"`
	DecayRate     float64       `mapstructure:"decayRate"`
	DecayCap      float64       `mapstructure:"decayCap"`
	EmbedTimeout  time.Duration `mapstructure:"embedTimeout"`
}

func (cfg Config) withDefaults() Config {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.2
	}

	if cfg.ToolThreshold == 0 {
		cfg.ToolThreshold = 0.35
	}

	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}

	if cfg.DecayRate == 0 {
		cfg.DecayRate = DefaultDecay.Rate
	}

	if cfg.DecayCap == 0 {
		cfg.DecayCap = DefaultDecay.Cap
	}

	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 5 * time.Second
	}

	return cfg
}

type options struct {
	domain    string
	threshold float64
}

type RetrieveOption func(*options)

func WithDomain(domain string) RetrieveOption {
	return func(opts *options) {
		opts.domain = domain
	}
}

func WithThreshold(threshold float64) RetrieveOption {
	return func(opts *options) {
		opts.threshold = threshold
	}
}

/*
Engine is the hybrid retriever. A keyword channel and a semantic channel run
side by side and are merged with semantic matches first. Retrieval is
best-effort: every failure is logged and the affected channel contributes
nothing.
*/
type Engine struct {
	store    memory.Store
	embedder embedding.Embedder
	cfg      Config
	now      func() time.Time
}

type EngineOption func(*Engine)

func NewEngine(store memory.Store, embedder embedding.Embedder, cfg Config, opts ...EngineOption) *Engine {
	engine := &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func WithClock(now func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.now = now
	}
}

func (engine *Engine) Config() Config {
	return engine.cfg
}

func (engine *Engine) Retrieve(
	ctx context.Context, scope memory.Scope, query string, limit int, opts ...RetrieveOption,
) []Ranked {
	if limit <= 0 {
		limit = engine.cfg.Limit
	}

	settings := options{threshold: engine.cfg.Threshold}

	for _, opt := range opts {
		opt(&settings)
	}

	var (
		group    errgroup.Group
		keyword  []*memory.Record
		semantic []memory.Scored
	)

	group.Go(func() error {
		keyword = engine.keywordChannel(ctx, scope, query, limit, settings)
		return nil
	})

	group.Go(func() error {
		semantic = engine.semanticChannel(ctx, scope, query, limit, settings)
		return nil
	})

	_ = group.Wait()

	return Merge(semantic, keyword, limit)
}

func (engine *Engine) keywordChannel(
	ctx context.Context, scope memory.Scope, query string, limit int, settings options,
) []*memory.Record {
	keywords := ExtractKeywords(query)

	if len(keywords) == 0 {
		return nil
	}

	records, err := engine.store.Query(ctx, scope, memory.Filter{
		Keywords: keywords,
		Domain:   settings.domain,
		Order:    memory.OrderRanked,
		Limit:    limit,
	})

	if err != nil {
		log.Warn("keyword retrieval failed", "error", err)
		return nil
	}

	return records
}

func (engine *Engine) semanticChannel(
	ctx context.Context, scope memory.Scope, query string, limit int, settings options,
) []memory.Scored {
	if strings.TrimSpace(query) == "" || engine.embedder == nil {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, engine.cfg.EmbedTimeout)
	vector, err := engine.embedder.Embed(embedCtx, query)
	cancel()

	if err != nil {
		log.Warn("query embedding failed, semantic channel skipped", "error", err)
		return nil
	}

	scored, err := engine.store.VectorQuery(ctx, scope, memory.VectorQuery{
		Vector:    vector,
		Threshold: settings.threshold,
		Limit:     limit,
		Domain:    settings.domain,
		Score: Scorer(engine.now(), Decay{
			Rate: engine.cfg.DecayRate,
			Cap:  engine.cfg.DecayCap,
		}),
	})

	if err != nil {
		log.Warn("semantic retrieval failed", "error", err)
		return nil
	}

	return scored
}

/*
Merge unions both channels by id. Semantic results lead in score order, a
record seen by both keeps its semantic score, keyword-only records follow in
their channel order.
*/
func Merge(semantic []memory.Scored, keyword []*memory.Record, limit int) []Ranked {
	out := make([]Ranked, 0, len(semantic)+len(keyword))
	index := make(map[string]int, len(semantic))

	for _, hit := range semantic {
		if _, dup := index[hit.Record.ID]; dup {
			continue
		}

		index[hit.Record.ID] = len(out)
		out = append(out, Ranked{
			Record:     hit.Record,
			Score:      hit.Score,
			Similarity: hit.Similarity,
			Source:     SourceSemantic,
		})
	}

	for _, record := range keyword {
		if i, ok := index[record.ID]; ok {
			out[i].Source = SourceBoth
			continue
		}

		index[record.ID] = len(out)
		out = append(out, Ranked{Record: record, Score: KeywordOnlyScore, Source: SourceKeyword})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}
