package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calque-ai/go-smartchat/pkg/api"
	"github.com/calque-ai/go-smartchat/pkg/config"
	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	embgemini "github.com/calque-ai/go-smartchat/pkg/retrieval/embedders/gemini"
	embollama "github.com/calque-ai/go-smartchat/pkg/retrieval/embedders/ollama"
	embopenai "github.com/calque-ai/go-smartchat/pkg/retrieval/embedders/openai"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/sources"
	"github.com/calque-ai/go-smartchat/pkg/store"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
	"github.com/calque-ai/go-smartchat/pkg/switcher/providers/gemini"
	"github.com/calque-ai/go-smartchat/pkg/switcher/providers/mock"
	"github.com/calque-ai/go-smartchat/pkg/switcher/providers/ollama"
	"github.com/calque-ai/go-smartchat/pkg/switcher/providers/openai"
)

// app owns everything built from the configuration.
type app struct {
	deps            api.Deps
	defaultProvider string
	defaultModel    string

	store  store.Store
	badger *store.BadgerStore
	pg     *sources.PGRegistry
	otlp   *observability.OTLPTracerProvider

	group *errgroup.Group
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{deps: api.Deps{Logger: log}}
	if err := a.wire(ctx, cfg); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	if err := a.buildObservability(ctx, cfg); err != nil {
		return err
	}
	if err := a.buildStore(ctx, cfg); err != nil {
		return err
	}
	a.deps.Conversations = conversation.NewManager(a.store, cfg.Storage.Conversation)

	tok, err := buildTokenizer(cfg.Retrieval)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(ctx, cfg.Retrieval)
	if err != nil {
		return err
	}

	if err := a.buildSources(ctx, cfg, embedder); err != nil {
		return err
	}
	if err := a.buildEngine(cfg, tok, embedder); err != nil {
		return err
	}
	if err := a.buildOrchestrator(ctx, cfg, tok); err != nil {
		return err
	}
	a.registerHealthChecks(cfg)
	return nil
}

func (a *app) buildObservability(ctx context.Context, cfg *config.Config) error {
	obs := cfg.Observability
	switch obs.Metrics {
	case config.MetricsPrometheus:
		prom := observability.NewPrometheusProvider()
		a.deps.Metrics = prom
		a.deps.MetricsHandler = prom.Handler()
	case config.MetricsMemory:
		a.deps.Metrics = observability.NewInMemoryMetricsProvider()
	}

	if obs.Tracing.Enabled {
		tp, err := observability.NewOTLPTracerProvider(ctx, obs.Tracing.OTLPConfig)
		if err != nil {
			return smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to start OTLP tracing")
		}
		a.otlp = tp
		a.deps.Tracer = tp
	}

	a.deps.Health = observability.NewHealthCheckRegistry(
		observability.WithHealthCheckTimeout(obs.HealthCheck.Timeout),
		observability.WithCacheDuration(obs.HealthCheck.CacheDuration),
	)
	return nil
}

func (a *app) buildStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendBadger {
		a.store = store.NewMemoryStore()
		return nil
	}
	db, err := store.OpenBadger(store.BadgerOptions{Path: cfg.Storage.Path, SyncWrites: cfg.Storage.SyncWrites})
	if err != nil {
		return smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to open storage")
	}
	a.badger, a.store = db, db
	smartchat.LogInfo(ctx, "badger storage opened", "path", cfg.Storage.Path)
	return nil
}

func buildTokenizer(cfg config.RetrievalConfig) (retrieval.Tokenizer, error) {
	if cfg.Tokenizer == config.TokenizerWord {
		return retrieval.NewWordTokenizer(), nil
	}
	tok, err := retrieval.NewTiktokenTokenizer(cfg.Encoding)
	if err != nil {
		return nil, smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "failed to load tokenizer")
	}
	return tok, nil
}

// buildEmbedder returns nil when the lexical scorer is configured.
func buildEmbedder(ctx context.Context, cfg config.RetrievalConfig) (retrieval.Embedder, error) {
	if cfg.Scorer != config.ScorerEmbedding {
		return nil, nil
	}
	e := cfg.Embedder
	var (
		emb retrieval.Embedder
		err error
	)
	switch e.Backend {
	case "openai":
		emb, err = embopenai.New(e.Model, &embopenai.Config{APIKey: e.APIKey, BaseURL: e.BaseURL})
	case "ollama":
		emb, err = embollama.New(e.Model, &embollama.Config{Host: e.BaseURL})
	case "gemini":
		emb, err = embgemini.New(ctx, e.Model, &embgemini.Config{APIKey: e.APIKey})
	default:
		err = fmt.Errorf("unknown embedder backend %q", e.Backend)
	}
	if err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to create embedder").
			Tag(slog.String("backend", e.Backend))
	}
	return emb, nil
}

func (a *app) buildSources(ctx context.Context, cfg *config.Config, embedder retrieval.Embedder) error {
	if cfg.Sources.Backend != config.BackendPostgres {
		reg := sources.NewMemoryRegistry()
		for _, ac := range cfg.Sources.Agents {
			reg.PutAgent(ac.Agent())
			for _, sc := range ac.Sources {
				src, err := sc.KnowledgeSource()
				if err != nil {
					return smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to load knowledge source")
				}
				reg.PutSource(ac.ID, src, nil)
			}
		}
		a.deps.Sources = reg
		return nil
	}

	pg, err := sources.NewPGRegistry(ctx, cfg.Sources.Postgres.PGConfig())
	if err != nil {
		return err
	}
	a.pg = pg
	a.deps.Sources = pg
	if cfg.Sources.Postgres.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	for _, ac := range cfg.Sources.Agents {
		if err := pg.PutAgent(ctx, ac.Agent()); err != nil {
			return err
		}
		records, err := sourceRecords(ctx, ac.Sources, embedder)
		if err != nil {
			return err
		}
		if err := pg.PutSources(ctx, ac.ID, records); err != nil {
			return err
		}
	}

	// Sources are only prefiltered by vector when they were embedded.
	if embedder != nil {
		a.deps.QueryEmbedder = embedder
	}
	return nil
}

func sourceRecords(ctx context.Context, cfgs []config.SourceConfig, embedder retrieval.Embedder) ([]sources.SourceRecord, error) {
	records := make([]sources.SourceRecord, 0, len(cfgs))
	texts := make([]string, 0, len(cfgs))
	for _, sc := range cfgs {
		src, err := sc.KnowledgeSource()
		if err != nil {
			return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to load knowledge source")
		}
		records = append(records, sources.SourceRecord{Source: src})
		texts = append(texts, src.Content)
	}
	if embedder == nil || len(texts) == 0 {
		return records, nil
	}

	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to embed knowledge sources")
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}
	return records, nil
}

func (a *app) buildEngine(cfg *config.Config, tok retrieval.Tokenizer, embedder retrieval.Embedder) error {
	opts := []retrieval.Option{
		retrieval.WithTokenizer(tok),
		retrieval.WithMetrics(a.deps.Metrics),
		retrieval.WithTracer(a.deps.Tracer),
	}
	if embedder != nil {
		scorer, err := retrieval.NewEmbeddingScorer(embedder, cfg.Retrieval.Embedder.CacheSize)
		if err != nil {
			return smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "failed to create embedding scorer")
		}
		opts = append(opts, retrieval.WithScorer(scorer))
	}

	engine, err := retrieval.NewEngine(cfg.Retrieval.Engine, opts...)
	if err != nil {
		return err
	}
	a.deps.Engine = engine
	return nil
}

// buildInvokers creates one invoker per enabled provider.
func buildInvokers(ctx context.Context, p config.ProvidersConfig) (map[string]switcher.Invoker, error) {
	invokers := make(map[string]switcher.Invoker)
	if p.OpenAI.Enabled {
		inv, err := openai.New(&p.OpenAI.Config)
		if err != nil {
			return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to create openai provider")
		}
		invokers[openai.ProviderName] = inv
	}
	if p.Gemini.Enabled {
		inv, err := gemini.New(ctx, &p.Gemini.Config)
		if err != nil {
			return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to create gemini provider")
		}
		invokers[gemini.ProviderName] = inv
	}
	if p.Ollama.Enabled {
		inv, err := ollama.New(&p.Ollama.Config)
		if err != nil {
			return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to create ollama provider")
		}
		invokers[ollama.ProviderName] = inv
	}
	if p.Mock.Enabled {
		invokers["mock"] = mock.New("mock")
	}
	return invokers, nil
}

func (a *app) buildOrchestrator(ctx context.Context, cfg *config.Config, tok retrieval.Tokenizer) error {
	invokers, err := buildInvokers(ctx, cfg.Providers)
	if err != nil {
		return err
	}

	var profiles []switcher.ProviderProfile
	for _, p := range cfg.Providers.Profiles {
		if _, ok := invokers[p.Provider]; ok {
			profiles = append(profiles, p)
		}
	}
	if len(profiles) == 0 {
		return smartchat.NewKindErr(ctx, smartchat.KindConfig, "no provider profile has an enabled provider")
	}
	registry, err := switcher.NewRegistry(profiles)
	if err != nil {
		return smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "invalid provider profiles")
	}

	opts := []switcher.Option{
		switcher.WithTokenizer(tok),
		switcher.WithMetrics(a.deps.Metrics),
		switcher.WithTracer(a.deps.Tracer),
	}
	if cfg.Switch.CacheTTL > 0 {
		opts = append(opts, switcher.WithResponseCache(switcher.NewResponseCache(a.store, cfg.Switch.CacheTTL)))
	}
	if judge := cfg.Providers.Judge; judge.Provider != "" {
		scorer, err := switcher.NewJudgeQualityScorer(invokers[judge.Provider], judge.Model, judge.Timeout)
		if err != nil {
			return smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "failed to create quality judge")
		}
		opts = append(opts, switcher.WithQualityScorer(scorer))
	}

	orch, err := switcher.NewOrchestrator(cfg.Switch, registry, invokers, opts...)
	if err != nil {
		return err
	}
	if n, err := orch.History().Restore(ctx, a.store); err != nil {
		smartchat.LogWarn(ctx, "failed to restore selection history", "error", err)
	} else if n > 0 {
		smartchat.LogInfo(ctx, "selection history restored", "entries", n)
	}

	a.deps.Orchestrator = orch
	a.deps.Invokers = invokers
	// smart-chat falls back to the cheapest registered profile.
	first := profiles[0]
	for _, p := range profiles[1:] {
		if p.CostPer1kTokens < first.CostPer1kTokens {
			first = p
		}
	}
	a.defaultProvider, a.defaultModel = first.Provider, first.Model
	return nil
}

func (a *app) registerHealthChecks(cfg *config.Config) {
	for _, check := range a.deps.Engine.HealthChecks() {
		a.deps.Health.Register(check, cfg.Retrieval.Scorer == config.ScorerEmbedding && !cfg.Retrieval.Engine.LexicalFallback)
	}
	for _, check := range a.deps.Orchestrator.HealthChecks() {
		a.deps.Health.Register(check, false)
	}
	if a.pg != nil {
		a.deps.Health.Register(&observability.FuncHealthCheck{
			CheckName:    "sources-postgres",
			CheckFunc:    a.pg.Health,
			CheckTimeout: 5 * time.Second,
		}, true)
	}
}

// startBackground runs the periodic jobs until ctx is cancelled.
func (a *app) startBackground(ctx context.Context, cfg *config.Config) {
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	every(gctx, g, cfg.Server.HealthRefreshInterval, func(ctx context.Context) {
		statuses := a.deps.Orchestrator.RefreshHealth(ctx)
		smartchat.LogDebug(ctx, "provider health refreshed", "profiles", len(statuses))
	})
	every(gctx, g, cfg.Storage.HistoryFlushInterval, a.flushHistory)
	if a.badger != nil {
		every(gctx, g, cfg.Storage.GCInterval, func(ctx context.Context) {
			if err := a.badger.RunGC(0.5); err != nil {
				smartchat.LogDebug(ctx, "badger GC found nothing to rewrite", "error", err)
			}
		})
	}
	if mem, ok := a.store.(*store.MemoryStore); ok {
		every(gctx, g, time.Minute, func(ctx context.Context) {
			if n := mem.Sweep(); n > 0 {
				smartchat.LogDebug(ctx, "expired entries swept", "entries", n)
			}
		})
	}
}

func every(ctx context.Context, g *errgroup.Group, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
}

func (a *app) flushHistory(ctx context.Context) {
	n, err := a.deps.Orchestrator.History().Flush(ctx, a.store)
	if err != nil {
		smartchat.LogWarn(ctx, "failed to flush selection history", "error", err)
		return
	}
	if n > 0 {
		smartchat.LogDebug(ctx, "selection history flushed", "entries", n)
	}
}

func (a *app) wait() {
	if a.group != nil {
		_ = a.group.Wait()
	}
}

// close flushes history and releases backends. It is safe on a partially
// built app.
func (a *app) close(ctx context.Context) {
	if a.deps.Orchestrator != nil && a.store != nil {
		a.flushHistory(ctx)
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			smartchat.LogError(ctx, "failed to close storage", err)
		}
	}
	if a.otlp != nil {
		if err := a.otlp.Shutdown(ctx); err != nil {
			smartchat.LogError(ctx, "failed to flush traces", err)
		}
	}
}
