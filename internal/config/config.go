package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Config holds configuration settings for the conductor process
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores & Archiving
		PlanStore   timebox.StoreConfig
		NodeStore   timebox.StoreConfig
		EngineStore timebox.StoreConfig
		ArchiveURL  string

		// Remote Tasks
		Task TaskConfig

		// Restraints
		DefaultCapacity int
		Capacities      map[api.ResourceUnit]int

		// Engine
		NodeTimeout       time.Duration
		ProducerCacheSize int
		CallbackBatchSize int
		ShutdownTimeout   time.Duration
	}

	// TaskConfig selects and configures the remote task transport
	TaskConfig struct {
		Transport   string
		Endpoint    string
		RedisAddr   string
		Queue       string
		ResultQueue string
		Timeout     time.Duration
	}
)

const (
	TransportNone  = ""
	TransportHTTP  = "http"
	TransportRedis = "redis"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultTaskTimeout     = 30 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "conductor"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096
	DefaultCallbackBatchSize   = 128
	DefaultCapacity            = 1

	DefaultTaskQueue       = "conductor:tasks"
	DefaultTaskResultQueue = "conductor:task-results"

	MaxCacheSize         = 1_000_000
	MaxCallbackBatchSize = 10_000
	MaxCapacity          = 1_000_000
	MaxNodeTimeout       = 365 * 24 * time.Hour
)

var (
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidNodeTimeout = errors.New("node timeout cannot be negative")
	ErrInvalidCapacity    = errors.New("restraint capacity must be positive")
	ErrInvalidCapacities  = errors.New("invalid restraint capacities")
	ErrInvalidTransport   = errors.New("invalid task transport")
	ErrMissingEndpoint    = errors.New("task transport requires an endpoint")
	ErrInvalidCacheSize   = errors.New("producer cache size must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings and stores
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:     DefaultAPIPort,
		APIHost:     DefaultAPIHost,
		PlanStore:   defaultStoreConfig(),
		NodeStore:   defaultStoreConfig(),
		EngineStore: defaultStoreConfig(),
		Task: TaskConfig{
			Transport:   TransportNone,
			Queue:       DefaultTaskQueue,
			ResultQueue: DefaultTaskResultQueue,
			Timeout:     DefaultTaskTimeout,
		},
		DefaultCapacity:   DefaultCapacity,
		Capacities:        map[api.ResourceUnit]int{},
		ProducerCacheSize: DefaultCacheSize,
		CallbackBatchSize: DefaultCallbackBatchSize,
		ShutdownTimeout:   DefaultShutdownTimeout,
		LogLevel:          "info",
	}
}

func defaultStoreConfig() timebox.StoreConfig {
	return timebox.StoreConfig{
		Addr:         DefaultRedisEndpoint,
		Password:     "",
		DB:           DefaultRedisDB,
		Prefix:       DefaultRedisPrefix,
		WorkerCount:  DefaultSnapshotWorkers,
		MaxQueueSize: DefaultSnapshotQueueSize,
		SaveTimeout:  DefaultSnapshotSaveTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.PlanStore, "PLAN")
	LoadStoreConfigFromEnv(&c.NodeStore, "NODE")
	LoadStoreConfigFromEnv(&c.EngineStore, "ENGINE")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if archive := os.Getenv("ARCHIVE_URL"); archive != "" {
		c.ArchiveURL = archive
	}
	c.Task.loadFromEnv()

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"PRODUCER_CACHE_SIZE", &c.ProducerCacheSize, 0, MaxCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"CALLBACK_BATCH_SIZE", &c.CallbackBatchSize, 0, MaxCallbackBatchSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RESTRAINT_DEFAULT_CAPACITY", &c.DefaultCapacity, 0, MaxCapacity,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"NODE_TIMEOUT", &c.NodeTimeout, MaxNodeTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, time.Hour,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"TASK_TIMEOUT", &c.Task.Timeout, time.Hour,
	); err != nil {
		return err
	}

	if s := os.Getenv("RESTRAINT_CAPACITIES"); s != "" {
		caps, err := ParseCapacities(s)
		if err != nil {
			return err
		}
		c.Capacities = caps
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.NodeTimeout < 0 {
		return ErrInvalidNodeTimeout
	}

	if c.ProducerCacheSize <= 0 {
		return ErrInvalidCacheSize
	}

	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("%w: default %d",
			ErrInvalidCapacity, c.DefaultCapacity)
	}
	for unit, n := range c.Capacities {
		if n <= 0 {
			return fmt.Errorf("%w: %s %d", ErrInvalidCapacity, unit, n)
		}
	}

	return c.Task.Validate()
}

// Validate checks the task transport selection
func (t *TaskConfig) Validate() error {
	switch t.Transport {
	case TransportNone:
		return nil
	case TransportHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("%w: %s", ErrMissingEndpoint, t.Transport)
		}
		return nil
	case TransportRedis:
		if t.RedisAddr == "" {
			return fmt.Errorf("%w: %s", ErrMissingEndpoint, t.Transport)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTransport, t.Transport)
	}
}

func (t *TaskConfig) loadFromEnv() {
	if tr := os.Getenv("TASK_TRANSPORT"); tr != "" {
		t.Transport = strings.ToLower(tr)
	}
	if ep := os.Getenv("TASK_ENDPOINT"); ep != "" {
		t.Endpoint = ep
	}
	if addr := os.Getenv("TASK_REDIS_ADDR"); addr != "" {
		t.RedisAddr = addr
	}
	if q := os.Getenv("TASK_QUEUE"); q != "" {
		t.Queue = q
	}
	if q := os.Getenv("TASK_RESULT_QUEUE"); q != "" {
		t.ResultQueue = q
	}
}

// ParseCapacities parses a "unit=n,unit=n" list of restraint capacities
func ParseCapacities(s string) (map[api.ResourceUnit]int, error) {
	res := map[api.ResourceUnit]int{}
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		unit, num, ok := strings.Cut(part, "=")
		unit = strings.TrimSpace(unit)
		if !ok || unit == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapacities, part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapacities, part)
		}
		res[api.ResourceUnit(unit)] = n
	}
	return res, nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "PLAN" or "NODE")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d < 0 || d > max {
		return fmt.Errorf("invalid %s: %s out of range [0, %s]", key, d, max)
	}
	*dst = d
	return nil
}
