// Package dealmesh values used car purchases with a multi-agent pipeline.
//
// Most applications interact with this package by:
//  1. loading a config.Config (config.Load);
//  2. building a DealMesh with New, which wires the model, search, cache,
//     predictor, valuation, knowledge base, store and artifact backends the
//     configuration names;
//  3. calling Analyze with cars, or AnalyzeText with a plain text listing.
//
// The lower level packages (pipeline, runner, engine) can be composed
// directly when a different wiring is needed.
package dealmesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/dealmesh/artifact"
	"github.com/hupe1980/dealmesh/artifact/minio"
	"github.com/hupe1980/dealmesh/cache"
	"github.com/hupe1980/dealmesh/checker"
	"github.com/hupe1980/dealmesh/config"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/engine"
	"github.com/hupe1980/dealmesh/extract"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/memory"
	"github.com/hupe1980/dealmesh/metrics"
	"github.com/hupe1980/dealmesh/model"
	anthropicmodel "github.com/hupe1980/dealmesh/model/anthropic"
	"github.com/hupe1980/dealmesh/model/compat"
	openaimodel "github.com/hupe1980/dealmesh/model/openai"
	"github.com/hupe1980/dealmesh/pipeline"
	"github.com/hupe1980/dealmesh/predictor"
	"github.com/hupe1980/dealmesh/runner"
	"github.com/hupe1980/dealmesh/search"
	"github.com/hupe1980/dealmesh/session"
	"github.com/hupe1980/dealmesh/store"
	"github.com/hupe1980/dealmesh/valuation/carsxe"
	"github.com/hupe1980/dealmesh/vector"
	"github.com/hupe1980/dealmesh/worker"
)

// Version is reported by the CLI and stored with every persisted analysis.
const Version = "3.0"

// Options overrides collaborators built from the configuration. Tests and
// embedders use them to inject fakes.
type Options struct {
	Logger     logging.Logger
	Registerer prometheus.Registerer
	HTTPClient *http.Client

	Model     model.Model
	Searcher  core.Searcher
	Predictor core.Predictor
	Valuator  core.Valuator
	Knowledge core.KnowledgeBase
	Artifacts core.ArtifactStore

	// Callbacks are registered on the engine.
	Callbacks []engine.Callback
}

// DealMesh bundles a configured engine and extractor.
type DealMesh struct {
	cfg       *config.Config
	logger    logging.Logger
	metrics   *metrics.Metrics
	engine    *engine.Engine
	extractor *extract.Extractor
	sessions  *session.InMemoryStore
	closers   []io.Closer
}

// New builds every collaborator named by cfg. Collaborators without
// configuration are left out; the workers depending on them report the gap
// in their own result slots.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*DealMesh, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cfg.Logging.AddSource).
			WithComponent("dealmesh")
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	d := &DealMesh{cfg: cfg, logger: opts.Logger, metrics: metrics.MustNewMetrics(opts.Registerer)}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	llm := opts.Model
	if llm == nil {
		llm = newModel(cfg.LLM)
	}

	searcher, err := d.searcher(ctx, opts)
	if err != nil {
		return nil, err
	}
	pred, err := d.predictor(opts)
	if err != nil {
		return nil, err
	}
	knowledge, err := d.knowledge(opts)
	if err != nil {
		return nil, err
	}
	artifacts, err := d.artifacts(ctx, opts)
	if err != nil {
		return nil, err
	}

	valuator := opts.Valuator
	if valuator == nil && cfg.Valuation.APIKey != "" {
		valuator = carsxe.New(func(o *carsxe.Options) {
			o.APIKey = cfg.Valuation.APIKey
			o.HTTPClient = opts.HTTPClient
			if cfg.Valuation.BaseURL != "" {
				o.BaseURL = cfg.Valuation.BaseURL
			}
		})
	}

	var rel *store.Store
	if cfg.Store.DSN != "" {
		dialect, err := store.ParseDialect(cfg.Store.Dialect)
		if err != nil {
			return nil, err
		}
		rel, err = store.Open(ctx, dialect, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rel)
	}
	d.sessions = session.NewInMemoryStore(func(o *session.Options) {
		if rel != nil {
			o.Next = rel
		}
	})

	pc := cfg.Pipeline
	workers := worker.New(func(o *worker.Options) {
		o.Searcher = searcher
		o.Model = llm
		o.Predictor = pred
		o.Valuator = valuator
		o.Knowledge = knowledge
		if rel != nil {
			o.Store = rel
			o.GraphContext = rel
		}
		o.Logger = d.logger
		o.Metrics = d.metrics
		o.Timeouts = worker.Timeouts{
			Search:    pc.Timeouts.Search,
			LLM:       pc.Timeouts.LLM,
			Valuation: pc.Timeouts.Valuation,
			Knowledge: pc.Timeouts.Knowledge,
			Store:     pc.Timeouts.Store,
		}
		if len(cfg.Search.PreferredDomains) > 0 {
			o.PreferredDomains = cfg.Search.PreferredDomains
		}
		o.MaxResults = cfg.Search.MaxResults
		o.Critique = pc.Critique
		o.Refine = pc.Refine
		o.Enhance = pc.Enhance
		o.Stream = cfg.LLM.Stream
	})
	checkers := checker.New(func(o *checker.Options) {
		o.Research = checker.Policy{Cap: pc.Research.Cap, Backoff: pc.Research.Backoff}
		o.Comparison = checker.Policy{Cap: pc.Comparison.Cap, Backoff: pc.Comparison.Backoff}
		o.Scoring = checker.Policy{Cap: pc.Scoring.Cap, Backoff: pc.Scoring.Backoff}
		o.Barrier = checker.BarrierPolicy{Backoff: pc.Join.Backoff, MaxWait: pc.Join.MaxWait}
		o.LLMRetryCap = pc.LLMRetries
		o.RefreshCap = pc.Refreshes
		o.Logger = d.logger
		o.Metrics = d.metrics
	})
	g, err := pipeline.New(workers, checkers, func(o *pipeline.Options) {
		o.MaxSteps = pc.MaxSteps
		o.Logger = d.logger
		o.Metrics = d.metrics
	})
	if err != nil {
		return nil, err
	}

	r := runner.New(g, func(o *runner.Options) {
		o.Fallback = workers.Report
		o.Logger = d.logger
	})
	d.engine = engine.New(r, func(o *engine.Options) {
		o.Concurrency = pc.Concurrency
		o.Sessions = d.sessions
		o.Artifacts = artifacts
		o.DisableArtifacts = artifacts == nil
		o.ReportPrefix = cfg.Artifact.Prefix
		o.Logger = d.logger
		o.Metrics = d.metrics
	})
	for _, cb := range opts.Callbacks {
		d.engine.Callbacks().RegisterCallback(cb)
	}
	d.extractor = extract.New(llm, func(o *extract.Options) {
		o.Timeout = pc.Timeouts.LLM
		o.Logger = d.logger
	})

	ok = true
	return d, nil
}

func newModel(c config.LLMConfig) model.Model {
	switch c.Provider {
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = c.Model
			o.APIKey = c.APIKey
			o.BaseURL = c.BaseURL
			o.Temperature = c.Temperature
			o.MaxCompletionTokens = int64(c.MaxTokens)
		})
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(c.Model)
			o.APIKey = c.APIKey
			o.Temperature = c.Temperature
			o.MaxTokens = int64(c.MaxTokens)
		})
	case "compat":
		return compat.NewModel(func(o *compat.Options) {
			o.Model = c.Model
			o.APIKey = c.APIKey
			o.BaseURL = c.BaseURL
			o.Temperature = float32(c.Temperature)
			o.MaxTokens = c.MaxTokens
		})
	}
	return nil
}

func (d *DealMesh) searcher(ctx context.Context, opts Options) (core.Searcher, error) {
	if opts.Searcher != nil {
		return opts.Searcher, nil
	}
	sc := d.cfg.Search
	s, err := search.New(search.Options{
		Provider:   search.Provider(sc.Provider),
		APIKey:     sc.APIKey,
		BaseURL:    sc.BaseURL,
		HTTPClient: opts.HTTPClient,
	})
	if errors.Is(err, search.ErrMissingAPIKey) {
		d.logger.Warn("No search api key configured; price research will fail")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cc := d.cfg.Cache
	var c cache.Cache
	switch cc.Backend {
	case "lru":
		lru, err := cache.NewLRU(cc.Size)
		if err != nil {
			return nil, err
		}
		c = lru
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   cc.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("dealmesh: redis cache: %w", err)
		}
		d.closers = append(d.closers, rc)
		c = rc
	default:
		return s, nil
	}
	return search.NewCached(s, c, cc.TTL, sc.Provider, d.logger), nil
}

func (d *DealMesh) predictor(opts Options) (core.Predictor, error) {
	if opts.Predictor != nil {
		return opts.Predictor, nil
	}
	if d.cfg.Predictor.Path == "" {
		return nil, nil
	}
	return predictor.Load(d.cfg.Predictor.Path)
}

func (d *DealMesh) knowledge(opts Options) (core.KnowledgeBase, error) {
	if opts.Knowledge != nil {
		return opts.Knowledge, nil
	}
	kc := d.cfg.Knowledge
	switch kc.Backend {
	case "chromem":
		return vector.New(vector.Options{
			PersistPath: kc.PersistPath,
			Embed:       vector.OpenAIEmbedding(kc.EmbeddingKey),
			CacheSize:   kc.CacheSize,
		})
	case "memory", "":
		return memory.NewInMemoryStore(), nil
	}
	return nil, nil
}

func (d *DealMesh) artifacts(ctx context.Context, opts Options) (core.ArtifactStore, error) {
	if opts.Artifacts != nil {
		return opts.Artifacts, nil
	}
	ac := d.cfg.Artifact
	switch ac.Backend {
	case "local":
		return artifact.NewLocalStore(ac.Dir)
	case "minio":
		m := ac.MinIO
		return minio.New(ctx, minio.Options{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			Bucket:    m.Bucket,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
		})
	case "memory", "":
		return artifact.NewInMemoryStore(), nil
	}
	return nil, nil
}

// Engine returns the batch engine.
func (d *DealMesh) Engine() *engine.Engine { return d.engine }

// Session returns a batch session recorded by this instance.
func (d *DealMesh) Session(id string) (session.Session, error) { return d.sessions.Get(id) }

// Metrics returns the collectors shared by every component.
func (d *DealMesh) Metrics() *metrics.Metrics { return d.metrics }

// Analyze runs a batch of cars.
func (d *DealMesh) Analyze(ctx context.Context, cars []core.Car) (*engine.Result, error) {
	return d.engine.Analyze(ctx, cars)
}

// Extract turns a plain text listing into cars.
func (d *DealMesh) Extract(ctx context.Context, text string) ([]core.Car, error) {
	return d.extractor.Extract(ctx, text)
}

// AnalyzeText extracts the cars of a listing and analyses them.
func (d *DealMesh) AnalyzeText(ctx context.Context, text string) (*engine.Result, error) {
	cars, err := d.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	return d.Analyze(ctx, cars)
}

// Close releases connections opened by New.
func (d *DealMesh) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	d.closers = nil
	return errors.Join(errs...)
}
