package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	app "github.com/kode4food/conductor"
	"github.com/kode4food/conductor/internal/archive"
	"github.com/kode4food/conductor/internal/client"
	"github.com/kode4food/conductor/internal/config"
	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/internal/metrics"
	"github.com/kode4food/conductor/internal/server"
	"github.com/kode4food/conductor/pkg/log"
)

type conductor struct {
	cfg         *config.Config
	timebox     *timebox.Timebox
	planStore   *timebox.Store
	nodeStore   *timebox.Store
	engineStore *timebox.Store
	archive     *archive.Archive
	transport   client.Transport
	engine      *engine.Engine
	registry    *prometheus.Registry
	metrics     *metrics.Collector
	apiServer   *server.Server
	httpServer  *http.Server
	cancel      context.CancelFunc
	quit        chan os.Signal
}

var (
	ErrCreateTimebox     = errors.New("failed to create timebox")
	ErrCreatePlanStore   = errors.New("failed to create plan store")
	ErrCreateNodeStore   = errors.New("failed to create node store")
	ErrCreateEngineStore = errors.New("failed to create engine store")
	ErrOpenArchive       = errors.New("failed to open archive")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &conductor{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *conductor) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	defer cancel()

	if err := s.openArchive(ctx); err != nil {
		return err
	}

	if err := s.initializeStores(); err != nil {
		s.closeArchive()
		return err
	}

	if err := s.initializeEngine(ctx); err != nil {
		_ = s.timebox.Close()
		s.closeArchive()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *conductor) setupLogging() {
	level, ok := log.ParseLevel(s.cfg.LogLevel)
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Conductor starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("plan_redis_addr", s.cfg.PlanStore.Addr),
		slog.Int("plan_redis_db", s.cfg.PlanStore.DB),
		slog.String("node_redis_addr", s.cfg.NodeStore.Addr),
		slog.Int("node_redis_db", s.cfg.NodeStore.DB),
		slog.String("engine_redis_addr", s.cfg.EngineStore.Addr),
		slog.Int("engine_redis_db", s.cfg.EngineStore.DB),
		slog.String("task_transport", s.cfg.Task.Transport),
		slog.Bool("archive_enabled", s.cfg.ArchiveURL != ""),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

// openArchive opens the archive bucket when one is configured. Plan and
// node aggregates hibernate into the same bucket
func (s *conductor) openArchive(ctx context.Context) error {
	if s.cfg.ArchiveURL == "" {
		return nil
	}

	a, err := archive.Open(ctx, s.cfg.ArchiveURL, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenArchive, err)
	}
	s.archive = a
	s.cfg.PlanStore.Hibernator = a.Hibernator()
	s.cfg.NodeStore.Hibernator = a.Hibernator()
	return nil
}

func (s *conductor) closeArchive() {
	if s.archive != nil {
		_ = s.archive.Close()
	}
}

func (s *conductor) initializeStores() error {
	var err error

	s.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  s.cfg.ProducerCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	s.planStore, err = s.timebox.NewStore(s.cfg.PlanStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreatePlanStore, err)
	}

	s.nodeStore, err = s.timebox.NewStore(s.cfg.NodeStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateNodeStore, err)
	}

	s.engineStore, err = s.timebox.NewStore(s.cfg.EngineStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateEngineStore, err)
	}

	return nil
}

func (s *conductor) initializeEngine(ctx context.Context) error {
	deps := engine.Dependencies{
		PlanStore:   s.planStore,
		NodeStore:   s.nodeStore,
		EngineStore: s.engineStore,
		EventHub:    s.timebox.GetHub(),
	}

	var results *client.RedisTransport
	switch s.cfg.Task.Transport {
	case config.TransportHTTP:
		s.transport = client.NewHTTPTransport(
			s.cfg.Task.Endpoint, s.cfg.Task.Timeout,
		)
	case config.TransportRedis:
		results = client.NewRedisTransport(client.RedisConfig{
			Addr:        s.cfg.Task.RedisAddr,
			Queue:       s.cfg.Task.Queue,
			ResultQueue: s.cfg.Task.ResultQueue,
		})
		s.transport = results
	}
	if s.transport != nil {
		deps.Transport = s.transport
	}
	if s.archive != nil {
		deps.Archiver = s.archive
	}

	eng, err := engine.New(s.cfg, deps)
	if err != nil {
		return err
	}
	s.engine = eng
	if err := s.engine.Start(); err != nil {
		return err
	}

	if results != nil {
		go results.Run(ctx, s.engine.HandleTaskResult)
	}
	return nil
}

func (s *conductor) startServer() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewCollector(
		s.registry, s.timebox.GetHub(), s.engine.RestraintUnits,
	)
	s.metrics.Start()

	s.apiServer = server.NewServer(s.engine).WithMetrics(s.registry)
	if s.archive != nil {
		s.apiServer.WithArchive(s.archive)
	}
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *conductor) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()
	s.metrics.Stop()
	s.cancel()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if c, ok := s.transport.(*client.RedisTransport); ok {
		_ = c.Close()
	}

	_ = s.timebox.Close()
	s.closeArchive()

	slog.Info("Server exited")
}
