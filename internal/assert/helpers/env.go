package helpers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/config"
	"github.com/kode4food/conductor/internal/engine"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine      *engine.Engine
	Redis       *miniredis.Miniredis
	Transport   *MockTransport
	Archiver    *MockArchiver
	Config      *config.Config
	EventHub    engine.EventHub
	Cleanup     func()
	planStore   *timebox.Store
	nodeStore   *timebox.Store
	engineStore *timebox.Store
	engines     []*engine.Engine
}

// NewTestConfig creates a default configuration with debug logging enabled
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.ProducerCacheSize = 100
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend and a mock task transport
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()
	return NewTestEngineWithConfig(t, NewTestConfig())
}

// NewTestEngineWithConfig creates a test engine environment using the
// supplied configuration
func NewTestEngineWithConfig(
	t *testing.T, cfg *config.Config,
) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	assert.NoError(t, err)

	newStore := func(base timebox.StoreConfig, prefix string) *timebox.Store {
		base.Addr = server.Addr()
		base.Prefix = prefix
		store, err := tb.NewStore(base)
		assert.NoError(t, err)
		return store
	}

	env := &TestEngineEnv{
		Redis:       server,
		Transport:   NewMockTransport(),
		Archiver:    NewMockArchiver(),
		Config:      cfg,
		EventHub:    tb.GetHub(),
		planStore:   newStore(cfg.PlanStore, "test-plan"),
		nodeStore:   newStore(cfg.NodeStore, "test-node"),
		engineStore: newStore(cfg.EngineStore, "test-engine"),
	}
	env.Engine = env.NewEngineInstance()
	env.Cleanup = func() {
		for _, eng := range env.engines {
			_ = eng.Stop()
		}
		_ = tb.Close()
		server.Close()
	}
	return env
}

// NewEngineInstance creates a new engine instance sharing the same stores
// and mock transport. Used to simulate process restart after crash
func (e *TestEngineEnv) NewEngineInstance() *engine.Engine {
	eng, err := engine.New(e.Config, e.Dependencies())
	if err != nil {
		panic(err)
	}
	e.engines = append(e.engines, eng)
	return eng
}

// Dependencies returns the engine dependencies backed by this environment
func (e *TestEngineEnv) Dependencies() engine.Dependencies {
	return engine.Dependencies{
		PlanStore:   e.planStore,
		NodeStore:   e.nodeStore,
		EngineStore: e.engineStore,
		EventHub:    e.EventHub,
		Transport:   e.Transport,
		Archiver:    e.Archiver,
	}
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithEngine(t, func(eng *engine.Engine) {
		assert.NoError(t, eng.Start())
		fn(eng)
	})
}

// WithStartedEnv creates a test environment and starts its engine before
// executing the provided function
func WithStartedEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.Start())
		fn(env)
	})
}
