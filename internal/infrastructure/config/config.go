package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Worker      WorkerConfig
	Poller      PollerConfig
	Ledger      LedgerConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // used when Driver is sqlite
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	RateLimitRPS     float64 // per client IP, 0 disables
	RateLimitBurst   int
}

// WorkerConfig holds reconciliation worker settings
type WorkerConfig struct {
	Transport    string // pool, asynq
	Partitions   int
	QueueSize    int
	PollInterval time.Duration
	BatchSize    int
	JobTimeout   time.Duration
	WaitTimeout  time.Duration // bound for submit?wait=true
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// PollerConfig holds platform pull settings
type PollerConfig struct {
	Enabled        bool
	Interval       time.Duration
	Lookback       time.Duration
	PageSize       int
	MaxRetries     int
	RetryBackoff   time.Duration
	RequestTimeout time.Duration
	Platforms      []string
	Endpoints      map[string]string // platform -> base URL
	AccessTokens   map[string]string // platform -> access token, supplied already valid
	AppKeys        map[string]string // platform -> open platform app key
	AppSecrets     map[string]string // platform -> signing secret
}

// LedgerConfig holds stock ledger settings
type LedgerConfig struct {
	LockBackend string // local, redis
	LockTTL     time.Duration
	LockWait    time.Duration
	LockStripes int
}

// IdempotencyConfig holds dedup fast path settings
type IdempotencyConfig struct {
	Enabled bool
	Backend string // memory, redis
	TTL     time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	PrometheusEnabled bool          // Serve pool gauges on /metrics
	LogsEnabled       bool          // Export logs over OTLP as well (needs Enabled)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RECON_ prefix (e.g., RECON_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reconciler")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
		},
		Worker: WorkerConfig{
			Transport:    v.GetString("worker.transport"),
			Partitions:   v.GetInt("worker.partitions"),
			QueueSize:    v.GetInt("worker.queue_size"),
			PollInterval: v.GetDuration("worker.poll_interval"),
			BatchSize:    v.GetInt("worker.batch_size"),
			JobTimeout:   v.GetDuration("worker.job_timeout"),
			WaitTimeout:  v.GetDuration("worker.wait_timeout"),
			MaxAttempts:  v.GetInt("worker.max_attempts"),
			BaseBackoff:  v.GetDuration("worker.base_backoff"),
			MaxBackoff:   v.GetDuration("worker.max_backoff"),
		},
		Poller: PollerConfig{
			Enabled:        v.GetBool("poller.enabled"),
			Interval:       v.GetDuration("poller.interval"),
			Lookback:       v.GetDuration("poller.lookback"),
			PageSize:       v.GetInt("poller.page_size"),
			MaxRetries:     v.GetInt("poller.max_retries"),
			RetryBackoff:   v.GetDuration("poller.retry_backoff"),
			RequestTimeout: v.GetDuration("poller.request_timeout"),
			Platforms:      v.GetStringSlice("poller.platforms"),
			Endpoints:      v.GetStringMapString("poller.endpoints"),
			AccessTokens:   v.GetStringMapString("poller.access_tokens"),
			AppKeys:        v.GetStringMapString("poller.app_keys"),
			AppSecrets:     v.GetStringMapString("poller.app_secrets"),
		},
		Ledger: LedgerConfig{
			LockBackend: v.GetString("ledger.lock_backend"),
			LockTTL:     v.GetDuration("ledger.lock_ttl"),
			LockWait:    v.GetDuration("ledger.lock_wait"),
			LockStripes: v.GetInt("ledger.lock_stripes"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: !v.IsSet("idempotency.enabled") || v.GetBool("idempotency.enabled"),
			Backend: v.GetString("idempotency.backend"),
			TTL:     v.GetDuration("idempotency.ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			PrometheusEnabled: !v.IsSet("telemetry.prometheus_enabled") || v.GetBool("telemetry.prometheus_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "order-reconciler"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "reconciler"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "reconciler.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20 // 2MB
	}
	if cfg.HTTP.RateLimitRPS > 0 && cfg.HTTP.RateLimitBurst <= 0 {
		cfg.HTTP.RateLimitBurst = int(cfg.HTTP.RateLimitRPS) + 1
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "X-Request-ID"}
	}
	if cfg.Worker.Transport == "" {
		cfg.Worker.Transport = "pool"
	}
	if cfg.Worker.Partitions == 0 {
		cfg.Worker.Partitions = 8
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 256
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 200
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = 30 * time.Second
	}
	if cfg.Worker.WaitTimeout == 0 {
		cfg.Worker.WaitTimeout = 10 * time.Second
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.BaseBackoff == 0 {
		cfg.Worker.BaseBackoff = 2 * time.Second
	}
	if cfg.Worker.MaxBackoff == 0 {
		cfg.Worker.MaxBackoff = 30 * time.Minute
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = 5 * time.Minute
	}
	if cfg.Poller.Lookback == 0 {
		cfg.Poller.Lookback = 15 * time.Minute
	}
	if cfg.Poller.PageSize == 0 {
		cfg.Poller.PageSize = 50
	}
	if cfg.Poller.MaxRetries == 0 {
		cfg.Poller.MaxRetries = 3
	}
	if cfg.Poller.RetryBackoff == 0 {
		cfg.Poller.RetryBackoff = 5 * time.Second
	}
	if cfg.Poller.RequestTimeout == 0 {
		cfg.Poller.RequestTimeout = 20 * time.Second
	}
	if cfg.Ledger.LockBackend == "" {
		cfg.Ledger.LockBackend = "local"
	}
	if cfg.Ledger.LockTTL == 0 {
		cfg.Ledger.LockTTL = 30 * time.Second
	}
	if cfg.Ledger.LockWait == 0 {
		cfg.Ledger.LockWait = 10 * time.Second
	}
	if cfg.Ledger.LockStripes == 0 {
		cfg.Ledger.LockStripes = 256
	}
	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = "memory"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Worker.Transport {
	case "pool":
	case "asynq":
		if !c.Redis.Enabled {
			return fmt.Errorf("worker.transport=asynq requires redis.enabled")
		}
	default:
		return fmt.Errorf("worker.transport must be pool or asynq, got %q", c.Worker.Transport)
	}
	if c.Worker.Partitions <= 0 {
		return fmt.Errorf("worker.partitions must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if c.Worker.BaseBackoff > c.Worker.MaxBackoff {
		return fmt.Errorf("worker.base_backoff (%s) cannot exceed worker.max_backoff (%s)", c.Worker.BaseBackoff, c.Worker.MaxBackoff)
	}

	switch c.Ledger.LockBackend {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("ledger.lock_backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("ledger.lock_backend must be local or redis, got %q", c.Ledger.LockBackend)
	}
	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("idempotency.backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("idempotency.backend must be memory or redis, got %q", c.Idempotency.Backend)
	}

	if c.Poller.Enabled {
		for _, p := range c.Poller.Platforms {
			if c.Poller.Endpoints[strings.ToLower(p)] == "" {
				return fmt.Errorf("poller.endpoints.%s is required when the poller is enabled", strings.ToLower(p))
			}
		}
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "sqlite" {
			return fmt.Errorf("database.driver cannot be sqlite in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// RetryPolicy returns the per-event retry settings
func (w WorkerConfig) RetryPolicy() (maxAttempts int, base, max time.Duration) {
	return w.MaxAttempts, w.BaseBackoff, w.MaxBackoff
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
