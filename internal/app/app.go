// Package app assembles the application: database pool, migrations,
// Genkit model plumbing, stores, the answering pipeline and the HTTP
// server. Commands call Setup once and Close on shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/verity0/verity/db"
	"github.com/verity0/verity/internal/api"
	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/knowledge"
	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/pipeline"
	"github.com/verity0/verity/internal/retrieval"
	"github.com/verity0/verity/internal/session"
)

// App is the assembled application.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Client   llm.Client
	Embedder llm.Embedder

	Knowledge *knowledge.Store
	Sessions  *session.Store
	Pipeline  *pipeline.Pipeline

	background *errgroup.Group
}

// Setup initializes every component. On error, everything already
// started is torn down before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	a.Genkit = g

	a.Client = llm.NewGenkit(g, llm.Config{
		ModelName:         cfg.FullModelName(),
		RequestsPerSecond: cfg.RateLimitRPS,
	}, logger)

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not available", cfg.EmbedderModel)
	}
	a.Embedder = llm.NewGenkitEmbedder(embedder)

	a.Knowledge = knowledge.New(pool, a.Embedder, logger)
	a.Sessions = session.NewStore(pool, logger)

	retriever := retrieval.NewRetriever(a.Knowledge, cfg.Pipeline.TopK, cfg.Pipeline.SimilarityFloor, logger)

	var scorer retrieval.Scorer
	if cfg.Reranker.URL != "" {
		scorer = retrieval.NewHTTPScorer(cfg.Reranker.URL, time.Duration(cfg.Reranker.TimeoutMS)*time.Millisecond)
	}
	reranker := retrieval.NewReranker(scorer, cfg.Pipeline.RerankTopN, logger)

	a.Pipeline = pipeline.New(cfg, pipeline.Deps{
		Client:    a.Client,
		Embedder:  a.Embedder,
		Retriever: retriever,
		Reranker:  reranker,
	}, logger)

	// Centroid priming needs one embedding call. It runs in the background
	// with its own timeout; the classifier degrades to keywords plus the
	// guard until it succeeds.
	a.background = &errgroup.Group{}
	a.background.Go(func() error {
		primeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Pipeline.Prime(primeCtx); err != nil {
			logger.Warn("intent centroid not primed", "error", err)
		}
		return nil
	})

	return a, nil
}

// Handler builds the HTTP surface for serve mode.
func (a *App) Handler() (http.Handler, error) {
	srv, err := api.NewServer(api.ServerConfig{
		Logger:       a.Logger,
		Pipeline:     a.Pipeline,
		SessionStore: a.Sessions,
		Knowledge:    a.Knowledge,
		Pool:         a.Pool,
		CORSOrigins:  a.Config.CORSOrigins,
		APIKey:       a.Config.APIKey,
		TrustProxy:   a.Config.TrustProxy,
		RateLimitRPS: a.Config.RateLimitRPS,
		HistoryLimit: int32(a.Config.Pipeline.MaxHistoryMessages),
	})
	if err != nil {
		return nil, fmt.Errorf("building api server: %w", err)
	}
	return srv.Handler(), nil
}

// Close releases resources. Safe to call on a partially built App.
func (a *App) Close() {
	if a.background != nil {
		_ = a.background.Wait()
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}
}

func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
