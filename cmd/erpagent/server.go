package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/api/handlers"
	"github.com/vantris/erpagent/checkpoint"
	"github.com/vantris/erpagent/config"
	"github.com/vantris/erpagent/engine"
	"github.com/vantris/erpagent/erp"
	"github.com/vantris/erpagent/internal/metrics"
	"github.com/vantris/erpagent/internal/server"
	"github.com/vantris/erpagent/internal/telemetry"
	"github.com/vantris/erpagent/llm"
	"github.com/vantris/erpagent/tools"
)

// Server wires the engine and its collaborators behind the HTTP API.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector   *metrics.Collector
	otel        *telemetry.Providers
	store       checkpoint.Store
	redisClient *redis.Client
	engine      *engine.Engine
	signal      engine.Signal

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start brings up the engine, the API server, and the metrics server.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("erpagent", nil, s.logger)

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) initEngine() error {
	store, err := checkpoint.New(s.cfg.CheckpointStoreConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	s.store = store

	// A shared redis signal only makes sense when state is shared too;
	// single-node setups get the in-process signal.
	if s.cfg.Checkpoint.Type == "redis" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		s.signal = engine.NewRedisSignal(s.redisClient, s.logger)
	} else {
		s.signal = engine.NewMemorySignal()
	}

	erpClient, err := erp.NewHTTPClient(s.cfg.ERP, s.logger)
	if err != nil {
		return fmt.Errorf("erp client: %w", err)
	}

	registry := tools.NewRegistry(s.logger)
	if err := erp.RegisterTools(registry, erpClient); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	catalog := engine.NewCatalog()
	specs := s.cfg.Specialists
	if len(specs) == 0 {
		specs = defaultSpecialists()
	}
	for _, sc := range specs {
		if err := catalog.Register(engine.Specialist{
			Name:       sc.Name,
			Capability: sc.Capability,
			Tools:      sc.Tools,
			ToolBudget: sc.ToolBudget,
			Timeout:    sc.Timeout,
		}); err != nil {
			return fmt.Errorf("register specialist %s: %w", sc.Name, err)
		}
	}

	completer := llm.NewClient(llm.Config{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Model:   s.cfg.LLM.Model,
		Timeout: s.cfg.LLM.Timeout,
	}, s.collector, s.logger)

	eng, err := engine.New(engine.Config{
		Completer: completer,
		Retriever: &erp.KnowledgeRetriever{Client: erpClient},
		Registry:  registry,
		Catalog:   catalog,
		Store:     store,
		Signal:    s.signal,
		Collector: s.collector,
		Logger:    s.logger,
		Options: engine.Options{
			MaxIterations:         s.cfg.Engine.MaxIterations,
			MaxConcurrent:         s.cfg.Engine.MaxConcurrent,
			MaxCorrectionAttempts: s.cfg.Engine.MaxCorrectionAttempts,
		},
	})
	if err != nil {
		return err
	}
	s.engine = eng

	s.logger.Info("engine initialized",
		zap.String("checkpoint_type", s.cfg.Checkpoint.Type),
		zap.Strings("specialists", catalog.Names()),
		zap.String("llm_model", s.cfg.LLM.Model),
	)
	return nil
}

// defaultSpecialists covers the common ERP surfaces when the config
// declares none.
func defaultSpecialists() []config.SpecialistConfig {
	return []config.SpecialistConfig{
		{
			Name:       "sales",
			Capability: "sales orders, quotations, invoices and customer documents",
			Tools:      []string{"get_doc", "list_docs", "create_doc", "update_doc", "submit_doc", "search_knowledge"},
		},
		{
			Name:       "inventory",
			Capability: "items, stock levels, warehouses and stock movements",
			Tools:      []string{"get_doc", "list_docs", "create_doc", "update_doc", "search_knowledge"},
		},
		{
			Name:       "reporting",
			Capability: "reports, analytics and summaries over ERP data",
			Tools:      []string{"run_report", "list_docs", "search_knowledge"},
		},
	}
}

func (s *Server) startHTTPServer() error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("checkpoint_store", s.store.Ping))
	if s.redisClient != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	mux := handlers.NewRouter(handlers.RouterConfig{
		Engine:    s.engine,
		Signal:    s.signal,
		Health:    health,
		Logger:    s.logger,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks on signals, then shuts everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the servers and closes backend connections.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("checkpoint store close error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
