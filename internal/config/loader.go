package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "thermal.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "THERMAL_PORT")
	setString(&cfg.Server.CORSOrigin, "THERMAL_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "THERMAL_REQUEST_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "THERMAL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "THERMAL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "THERMAL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "THERMAL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "THERMAL_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.AcquireTimeout, "THERMAL_PG_ACQUIRE_TIMEOUT")
	setDuration(&cfg.Postgres.QueryTimeout, "THERMAL_PG_QUERY_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "THERMAL_NATS_STREAM")

	// Federation
	setString(&cfg.Federation.Triad, "THERMAL_TRIAD")
	setInt(&cfg.Federation.BufferSize, "THERMAL_FEDERATION_BUFFER")
	setInt(&cfg.Federation.Workers, "THERMAL_FEDERATION_WORKERS")
	setBool(&cfg.Federation.Subscribe, "THERMAL_FEDERATION_SUBSCRIBE")

	// Thermal curve and sweeper
	setDuration(&cfg.Thermal.HalfLife, "THERMAL_HALF_LIFE")
	setFloat64(&cfg.Thermal.BoostPerAccess, "THERMAL_BOOST_PER_ACCESS")
	setDuration(&cfg.Thermal.BoostWindow, "THERMAL_BOOST_WINDOW")
	setFloat64(&cfg.Thermal.BoostDiminish, "THERMAL_BOOST_DIMINISH")
	setDuration(&cfg.Thermal.SweepInterval, "THERMAL_SWEEP_INTERVAL")
	setInt(&cfg.Thermal.SweepBatch, "THERMAL_SWEEP_BATCH")
	setInt(&cfg.Thermal.SweepConcurrency, "THERMAL_SWEEP_CONCURRENCY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "THERMAL_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "THERMAL_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "THERMAL_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "THERMAL_CACHE_L2_TTL")

	setString(&cfg.Logging.Level, "THERMAL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "THERMAL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "THERMAL_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "THERMAL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "THERMAL_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "THERMAL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "THERMAL_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "THERMAL_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "THERMAL_RATE_MAX_IDLE_TIME")

	setString(&cfg.OTel.Endpoint, "THERMAL_OTEL_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "THERMAL_OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTel.SampleRate, "THERMAL_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "THERMAL_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "THERMAL_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "THERMAL_MCP_API_KEY")
	setString(&cfg.MCP.APIKeyFile, "THERMAL_MCP_API_KEY_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Postgres.MinConns < 0 || cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return errors.New("postgres.min_conns must be between 0 and max_conns")
	}
	if cfg.Postgres.AcquireTimeout <= 0 {
		return errors.New("postgres.acquire_timeout must be > 0")
	}
	if cfg.Postgres.QueryTimeout <= 0 {
		return errors.New("postgres.query_timeout must be > 0")
	}
	if cfg.Federation.Triad == "" {
		return errors.New("federation.triad is required")
	}
	if !memory.ValidTriad(cfg.Federation.Triad) {
		return fmt.Errorf("federation.triad %q must match [A-Za-z0-9][A-Za-z0-9_-]*", cfg.Federation.Triad)
	}
	if cfg.Federation.BufferSize < 1 {
		return errors.New("federation.buffer_size must be >= 1")
	}
	if cfg.Federation.Workers < 1 {
		return errors.New("federation.workers must be >= 1")
	}
	if cfg.Thermal.HalfLife <= 0 {
		return errors.New("thermal.half_life must be > 0")
	}
	if cfg.Thermal.BoostPerAccess < 0 {
		return errors.New("thermal.boost_per_access must be >= 0")
	}
	if cfg.Thermal.BoostWindow <= 0 {
		return errors.New("thermal.boost_window must be > 0")
	}
	if cfg.Thermal.BoostDiminish <= 0 {
		return errors.New("thermal.boost_diminish must be > 0")
	}
	if cfg.Thermal.SweepInterval <= 0 {
		return errors.New("thermal.sweep_interval must be > 0")
	}
	if cfg.Thermal.SweepBatch < 1 {
		return errors.New("thermal.sweep_batch must be >= 1")
	}
	if cfg.Thermal.SweepConcurrency < 1 || int32(cfg.Thermal.SweepConcurrency) > cfg.Postgres.MaxConns { //nolint:gosec // bounded by max_conns
		return errors.New("thermal.sweep_concurrency must be between 1 and postgres.max_conns")
	}
	if cfg.Cache.L1TTL <= 0 || cfg.Cache.L1TTL > cfg.Cache.L2TTL {
		return errors.New("cache.l1_ttl must be > 0 and <= cache.l2_ttl")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
