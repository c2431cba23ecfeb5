package server

import (
	"context"
	"time"

	"fapchat/app/agent"
	"fapchat/app/api"
	"fapchat/app/middleware"
	"fapchat/config"
	"fapchat/intent"
	"fapchat/loader/service"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/store"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	cfg   *config.Config
	log   *logger.Logger
	app   *fiber.App
	index *store.Index
}

func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	return &Server{
		cfg: cfg,
		log: log,
	}
}

// Stop drains open requests and closes the vector store.
func (s *Server) Stop() {
	if s.app != nil {
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			s.log.Error("error to stop server", "err", err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.log.Error("error to close store", "err", err)
		}
	}
	s.log.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	index, err := store.OpenIndex(ctx, s.cfg, s.log)
	if err != nil {
		s.log.Fatal("error to open vector store", "store", s.cfg.Store, "err", err)
		return
	}
	s.index = index
	if errs := index.CreateFilterIndexes(ctx, service.DefaultOptions().FilterFields); len(errs) > 0 {
		s.log.Warn("filter indexes incomplete", "errors", len(errs))
	}

	embedder := model.NewEmbedderFromConfig(s.cfg)
	generator := model.NewGeneratorFromConfig(s.cfg)
	translator := model.NewTranslatorFromConfig(s.cfg, generator)

	spec, err := intent.LoadCatalogSpec(s.cfg.CatalogPath)
	if err != nil {
		s.log.Fatal("error to load catalog", "path", s.cfg.CatalogPath, "err", err)
		return
	}
	catalog, err := intent.BuildCatalog(ctx, embedder, spec)
	if err != nil {
		s.log.Fatal("error to build catalog", "err", err)
		return
	}

	var strategies []intent.Strategy
	if generator != nil && s.cfg.LLMIntent {
		strategies = append(strategies, intent.NewLLMStrategy(catalog, generator, s.cfg.IntentAttempts))
	}
	strategies = append(strategies,
		intent.NewLocalStrategy(catalog, embedder, translator, intent.DefaultLocalOptions(), s.log),
		intent.NewDefaultStrategy(translator),
	)
	resolver := intent.NewResolver(catalog, s.log, strategies...)

	orchestrator := agent.NewOrchestrator(resolver, embedder, index, agent.Options{
		Limit:          s.cfg.SearchLimit,
		Overfetch:      s.cfg.Overfetch,
		ScoreThreshold: s.cfg.ScoreThreshold,
	}, s.log, s.generation(generator)...)

	var (
		app = fiber.New(fiber.Config{
			ErrorHandler: api.ErrorHandler(s.log),
			BodyLimit:    32 << 20,
		})
		checkHandler   = api.NewCheckHandler(index)
		searchHandler  = api.NewSearchHandler(orchestrator)
		catalogHandler = api.NewCatalogHandler(resolver)
		ingestHandler  = api.NewIngestHandler(service.New(index, embedder, service.OptionsFromConfig(s.cfg), s.log))
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)
	s.app = app
	app.Use(middleware.RequestLogger(s.log))

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)
	apiv1.Post("/search", searchHandler.HandleSearch)
	apiv1.Get("/catalog", catalogHandler.HandleCatalog)
	apiv1.Post("/ingest/:kind", ingestHandler.HandleIngest)

	s.log.Info("server started", "addr", s.cfg.ServerAddr, "store", s.cfg.Store, "generator", generator != nil)
	if err := app.Listen(s.cfg.ServerAddr); err != nil {
		s.log.Error("error to start server", "err", err)
	}
}

// generation wires reranking and synthesis when a generator is configured.
func (s *Server) generation(gen model.Generator) []agent.Option {
	if gen == nil {
		return nil
	}
	var opts []agent.Option
	if s.cfg.Rerank {
		opts = append(opts, agent.WithReranker(agent.NewReranker(gen)))
	}
	if s.cfg.Synthesize {
		count, err := agent.TiktokenCounter(s.cfg.TokenizerModel)
		if err != nil {
			s.log.Warn("tokenizer unavailable, estimating tokens", "model", s.cfg.TokenizerModel, "err", err)
			count = agent.FallbackCounter
		}
		opts = append(opts, agent.WithSynthesizer(agent.NewSynthesizer(gen, s.cfg.ContextBudget, count, s.log)))
	}
	return opts
}
