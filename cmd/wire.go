package cmd

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/embedding"
	"github.com/theapemachine/mnemo/pkg/episode"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/orchestrator"
	"github.com/theapemachine/mnemo/pkg/provider"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/search"
	"github.com/theapemachine/mnemo/pkg/stores/chromem"
	"github.com/theapemachine/mnemo/pkg/stores/qdrant"
	"github.com/theapemachine/mnemo/pkg/stores/sqlite"
	"github.com/theapemachine/mnemo/pkg/tools"
)

/*
engine holds every long-lived component built from configuration.
*/
type engine struct {
	cfg          *Config
	store        memory.Backend
	embedder     *embedding.Adapter
	backfill     *embedding.Backfill
	episodes     *episode.Manager
	retriever    *retrieval.Engine
	registry     *tools.Registry
	providers    *provider.Manager
	orchestrator *orchestrator.Orchestrator
	closers      []io.Closer
}

/*
openStore builds the record store, with an external vector index in front of
it when one is configured.
*/
func openStore(ctx context.Context, cfg *Config) (memory.Backend, []io.Closer, error) {
	var (
		backend memory.Backend
		closers []io.Closer
		durable bool
	)

	switch cfg.Store.Driver {
	case "memory":
		backend = memory.NewInMemoryStore()
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Store.Path)

		if err != nil {
			return nil, nil, err
		}

		backend = db
		durable = true
		closers = append(closers, db)
	default:
		return nil, nil, errors.New(errors.KindFatalConfig, "unknown store driver %q", cfg.Store.Driver)
	}

	var (
		index memory.VectorIndex
		empty bool
	)

	switch cfg.Store.Index {
	case "", "none":
		return backend, closers, nil
	case "chromem":
		if !durable {
			index = chromem.New()
			break
		}

		vectors, err := chromem.Open(cfg.Store.VectorPath())

		if err != nil {
			return nil, closers, err
		}

		index = vectors
		empty = vectors.Empty()
	case "qdrant":
		client, err := qdrant.New(cfg.Store.Qdrant)

		if err != nil {
			return nil, closers, err
		}

		index = client
		closers = append(closers, client)
	default:
		return nil, closers, errors.New(errors.KindFatalConfig, "unknown vector index %q", cfg.Store.Index)
	}

	log.Info("vector index enabled", "index", cfg.Store.Index)

	store := memory.NewUnifiedStore(backend, index, memory.WithOverfetch(cfg.Store.Overfetch))

	if empty {
		rebuildIndex(ctx, store, backend)
	}

	return store, closers, nil
}

type scoper interface {
	Scopes(ctx context.Context) ([]memory.Scope, error)
}

/*
rebuildIndex refills an empty local index from the durable store, which
covers first runs after enabling the index and a deleted index directory.
*/
func rebuildIndex(ctx context.Context, store *memory.UnifiedStore, backend memory.Backend) {
	source, ok := backend.(scoper)

	if !ok {
		return
	}

	scopes, err := source.Scopes(ctx)

	if err != nil {
		log.Warn("could not list scopes for reindex", "error", err)
		return
	}

	count, err := store.ReindexAll(ctx, scopes)

	if err != nil {
		log.Warn("vector index rebuild incomplete", "records", count, "error", err)
		return
	}

	if count > 0 {
		log.Info("vector index rebuilt", "records", count, "scopes", len(scopes))
	}
}

func newEngine(ctx context.Context, cfg *Config) (*engine, error) {
	store, closers, err := openStore(ctx, cfg)

	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewAdapterFromConfig(cfg.Embedding)

	if err != nil {
		return nil, err
	}

	providers, err := provider.NewManagerFromConfig(cfg.Providers, cfg.Provider)

	if err != nil {
		return nil, err
	}

	retriever := retrieval.NewEngine(store, embedder, cfg.Retrieval)
	episodes := episode.NewManager(store, episode.WithWindow(cfg.Episode.Window))
	backfill := embedding.NewBackfill(embedder, store, cfg.Embedding.Backfill)

	registry := tools.NewRegistry()
	tools.NewSearchMemories(retriever, retriever.Config().ToolThreshold).Register(registry)
	tools.NewWebSearch(search.NewDuckDuckGo(cfg.Tools.Search.Endpoint, cfg.Tools.Search.Timeout)).Register(registry)

	return &engine{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		backfill:  backfill,
		episodes:  episodes,
		retriever: retriever,
		registry:  registry,
		providers: providers,
		orchestrator: orchestrator.New(
			store,
			episodes,
			retriever,
			providers,
			tools.NewBridge(registry, cfg.Tools.BridgeConfig),
			cfg.Orchestrator,
			orchestrator.WithBackfill(backfill),
		),
		closers: closers,
	}, nil
}

/*
start launches the background embedding workers for the lifetime of ctx.
*/
func (e *engine) start(ctx context.Context) {
	e.backfill.Start(ctx)
}

func (e *engine) Close() {
	e.providers.Close()

	for _, closer := range e.closers {
		if err := closer.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func buildEngine() (*engine, error) {
	cfg, err := loadConfig()

	if err != nil {
		return nil, err
	}

	return newEngine(context.Background(), cfg)
}
