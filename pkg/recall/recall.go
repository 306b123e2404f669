// Package recall is the public entry point: it wires the configured
// embedder, reasoning backend and similarity store into a recursive
// search engine.
//
//	cfg, _ := config.Load(".")
//	eng, err := recall.New(ctx, cfg)
//	if err != nil { ... }
//	defer eng.Close()
//	res, err := eng.SearchRecursively(ctx, "what did we decide about the trip", "alice", "", nil)
package recall

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/embed"
	"github.com/Aman-CERP/amanrecall/internal/ingest"
	"github.com/Aman-CERP/amanrecall/internal/preflight"
	"github.com/Aman-CERP/amanrecall/internal/reason"
	"github.com/Aman-CERP/amanrecall/internal/search"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// Engine owns the collaborators of one recall deployment.
type Engine struct {
	cfg          *config.Config
	defaults     search.Config
	embedder     embed.Embedder
	reasoner     reason.Reasoner
	store        store.Store
	orchestrator *search.Orchestrator
	metrics      *search.Metrics
	logger       *slog.Logger
}

// Option overrides a collaborator built by New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	embedder   embed.Embedder
	reasoner   reason.Reasoner
	store      store.Store
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegisterer registers search metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.registerer = reg } }

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e embed.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithReasoner uses r instead of the configured provider.
func WithReasoner(r reason.Reasoner) Option { return func(o *options) { o.reasoner = r } }

// WithStore uses s instead of the configured backend.
func WithStore(s store.Store) Option { return func(o *options) { o.store = s } }

// New builds an Engine from cfg. cfg must already be validated (config.Load
// does this).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	emb := o.embedder
	if emb == nil {
		var err error
		emb, err = embed.NewEmbedder(EmbedderConfig(cfg))
		if err != nil {
			return nil, err
		}
	}

	rsn := o.reasoner
	if rsn == nil {
		var err error
		rsn, err = reason.NewReasoner(ReasonerConfig(cfg))
		if err != nil {
			_ = closeIfOwned(o.embedder, emb)
			return nil, err
		}
	}

	st := o.store
	if st == nil {
		var err error
		st, err = store.Open(ctx, StoreOptions(cfg, emb.Dimensions()))
		if err != nil {
			_ = closeIfOwned(o.embedder, emb)
			return nil, err
		}
	}

	e := &Engine{
		cfg:      cfg,
		defaults: SearchConfig(cfg),
		embedder: emb,
		reasoner: rsn,
		store:    st,
		logger:   o.logger,
	}
	if o.registerer != nil {
		e.metrics = search.NewMetrics(o.registerer)
	}
	e.orchestrator = search.NewOrchestrator(
		search.NewSearchers(emb, st),
		search.NewLLMEvaluator(rsn, o.logger),
		search.WithLogger(o.logger),
		search.WithMetrics(e.metrics),
		search.WithParallelism(cfg.Search.Parallelism),
	)

	o.logger.Info("recall_engine_ready",
		slog.String("embedder", emb.ModelName()),
		slog.String("reasoner", rsn.ModelName()),
		slog.String("store", cfg.Store.Backend))
	return e, nil
}

func closeIfOwned(given, built embed.Embedder) error {
	if given != nil || built == nil {
		return nil
	}
	return built.Close()
}

// SearchRecursively runs the recursive search for ownerID. conversationID
// is required only when the effective scope is "conversation". A nil sc
// uses the engine's configured defaults.
func (e *Engine) SearchRecursively(ctx context.Context, query, ownerID, conversationID string, sc *search.Config) (*search.Result, error) {
	cfg := e.defaults
	if sc != nil {
		cfg = *sc
	}
	scope := search.OwnerScope{OwnerID: ownerID, ConversationID: conversationID}
	return e.orchestrator.Search(ctx, query, scope, cfg)
}

// Trigger reports whether message should start a recursive search.
func (e *Engine) Trigger(message string) search.TriggerMatch {
	return search.Trigger(message)
}

// Ingest loads JSONL history records from in.
func (e *Engine) Ingest(ctx context.Context, in io.Reader, cfg ingest.RunnerConfig) (*ingest.RunnerResult, error) {
	r, err := ingest.NewRunner(ingest.RunnerDependencies{Store: e.store, Embedder: e.embedder, Logger: e.logger})
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, in, cfg)
}

// Stats returns record counts per source for ownerID.
func (e *Engine) Stats(ctx context.Context, ownerID string) (map[store.Source]int, error) {
	return e.store.Count(ctx, ownerID)
}

// Check runs the preflight checks against the engine's collaborators.
// Local models are checked when a provider is ollama.
func (e *Engine) Check(ctx context.Context, dataDir string) []preflight.CheckResult {
	deps := preflight.Dependencies{Embedder: e.embedder, Reasoner: e.reasoner, Store: e.store}

	var (
		host     string
		required []string
	)
	if e.cfg.Embeddings.Provider == string(embed.ProviderOllama) {
		host = e.cfg.Embeddings.OllamaHost
		required = append(required, e.embedder.ModelName())
	}
	// A reasoner on a different Ollama host is covered by its own probe.
	if e.cfg.Reasoning.Provider == string(reason.ProviderOllama) && (host == "" || host == e.cfg.Reasoning.OllamaHost) {
		host = e.cfg.Reasoning.OllamaHost
		required = append(required, e.reasoner.ModelName())
	}
	if host != "" {
		if lister, err := preflight.NewOllamaModels(host, nil); err == nil {
			deps.Models = lister
			deps.RequiredModels = required
		}
	}

	return preflight.New(deps).RunAll(ctx, dataDir)
}

// Defaults returns the engine's search defaults.
func (e *Engine) Defaults() search.Config {
	return e.defaults
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Close releases the store and embedder.
func (e *Engine) Close() error {
	serr := e.store.Close()
	eerr := e.embedder.Close()
	if serr != nil {
		return serr
	}
	return eerr
}
