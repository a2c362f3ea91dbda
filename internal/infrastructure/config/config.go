package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Commerce     CommerceConfig
	Cache        CacheConfig
	Upload       UploadConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Storage      StorageConfig
	HTTP         HTTPConfig
	Telemetry    TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig selects and configures the local store. The embedded sqlite
// file is the default; postgres lets several processes share one store.
type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	Path            string // sqlite file
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
	SlowThreshold   time.Duration
}

// RedisConfig holds Redis connection settings. Redis is optional and backs
// the TTL cache and leases when enabled.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CommerceConfig describes the commerce backend
type CommerceConfig struct {
	BaseURL          string
	ResourcePath     string // static resource path, %s is the resource name
	SubmitPath       string
	SessionCookie    string
	RequestTimeout   time.Duration
	MaxResponseBytes int64
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	ReflushBaseDelay time.Duration
	ReflushMaxDelay  time.Duration
}

// CacheConfig configures the persistent TTL cache
type CacheConfig struct {
	Backend       string // gorm, redis, memory
	KeyPrefix     string
	MaxEntries    int
	MaxBytes      int64
	DefaultMaxAge time.Duration
}

// UploadConfig configures the upload job queue
type UploadConfig struct {
	MaxRetries           int
	RescheduleInterval   time.Duration
	SubmitTimeout        time.Duration // 0 disables the timeout
	StaleProcessingAfter time.Duration
	LeaseTTL             time.Duration
	SpillThreshold       int64 // attachments larger than this go to object storage
}

// SyncConfig configures the reference data sync
type SyncConfig struct {
	StaleAfter       time.Duration
	CheckInterval    time.Duration
	AttributeMapFile string
	LeaseTTL         time.Duration
}

// ConnectivityConfig configures the online/offline health check
type ConnectivityConfig struct {
	CheckURL      string // empty disables checking, signals come from the host only
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	StartOffline  bool
}

// StorageConfig configures S3-compatible attachment storage
type StorageConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// HTTPConfig holds the control API server configuration
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodySize  int64
}

// TelemetryConfig holds OpenTelemetry export settings
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	SamplingRatio     float64
	ServiceName       string
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// Load reads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g., STOREFRONT_COMMERCE_BASE_URL)
// 2. configFile, or config.toml in the working directory
// 3. Built-in defaults
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/storefront")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
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
		Commerce: CommerceConfig{
			BaseURL:          v.GetString("commerce.base_url"),
			ResourcePath:     v.GetString("commerce.resource_path"),
			SubmitPath:       v.GetString("commerce.submit_path"),
			SessionCookie:    v.GetString("commerce.session_cookie"),
			RequestTimeout:   v.GetDuration("commerce.request_timeout"),
			MaxResponseBytes: v.GetInt64("commerce.max_response_bytes"),
			RetryAttempts:    v.GetInt("commerce.retry_attempts"),
			RetryBaseDelay:   v.GetDuration("commerce.retry_base_delay"),
			RetryMaxDelay:    v.GetDuration("commerce.retry_max_delay"),
			ReflushBaseDelay: v.GetDuration("commerce.reflush_base_delay"),
			ReflushMaxDelay:  v.GetDuration("commerce.reflush_max_delay"),
		},
		Cache: CacheConfig{
			Backend:       v.GetString("cache.backend"),
			KeyPrefix:     v.GetString("cache.key_prefix"),
			MaxEntries:    v.GetInt("cache.max_entries"),
			MaxBytes:      v.GetInt64("cache.max_bytes"),
			DefaultMaxAge: v.GetDuration("cache.default_max_age"),
		},
		Upload: UploadConfig{
			MaxRetries:           v.GetInt("upload.max_retries"),
			RescheduleInterval:   v.GetDuration("upload.reschedule_interval"),
			SubmitTimeout:        v.GetDuration("upload.submit_timeout"),
			StaleProcessingAfter: v.GetDuration("upload.stale_processing_after"),
			LeaseTTL:             v.GetDuration("upload.lease_ttl"),
			SpillThreshold:       v.GetInt64("upload.spill_threshold"),
		},
		Sync: SyncConfig{
			StaleAfter:       v.GetDuration("sync.stale_after"),
			CheckInterval:    v.GetDuration("sync.check_interval"),
			AttributeMapFile: v.GetString("sync.attribute_map_file"),
			LeaseTTL:         v.GetDuration("sync.lease_ttl"),
		},
		Connectivity: ConnectivityConfig{
			CheckURL:      v.GetString("connectivity.check_url"),
			CheckInterval: v.GetDuration("connectivity.check_interval"),
			CheckTimeout:  v.GetDuration("connectivity.check_timeout"),
			StartOffline:  v.GetBool("connectivity.start_offline"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			Prefix:          v.GetString("storage.prefix"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			MaxBodySize:  v.GetInt64("http.max_body_size"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			Insecure:          v.GetBool("telemetry.insecure"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
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
		cfg.App.Name = "storefrontd"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "storefront.db"
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
		cfg.Database.DBName = "storefront"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
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

	if cfg.Commerce.ResourcePath == "" {
		cfg.Commerce.ResourcePath = "/static/%s.json"
	}
	if cfg.Commerce.SubmitPath == "" {
		cfg.Commerce.SubmitPath = "/api/products"
	}
	if cfg.Commerce.RequestTimeout == 0 {
		cfg.Commerce.RequestTimeout = 15 * time.Second
	}
	if cfg.Commerce.MaxResponseBytes == 0 {
		cfg.Commerce.MaxResponseBytes = 10 << 20 // 10MB
	}
	if cfg.Commerce.RetryAttempts == 0 {
		cfg.Commerce.RetryAttempts = 3
	}
	if cfg.Commerce.RetryBaseDelay == 0 {
		cfg.Commerce.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Commerce.RetryMaxDelay == 0 {
		cfg.Commerce.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Commerce.ReflushBaseDelay == 0 {
		cfg.Commerce.ReflushBaseDelay = time.Second
	}
	if cfg.Commerce.ReflushMaxDelay == 0 {
		cfg.Commerce.ReflushMaxDelay = 5 * time.Minute
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "gorm"
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "storefront:cache:"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 5000
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = 50 << 20 // 50MB
	}
	if cfg.Cache.DefaultMaxAge == 0 {
		cfg.Cache.DefaultMaxAge = 5 * time.Minute
	}

	if cfg.Upload.MaxRetries == 0 {
		cfg.Upload.MaxRetries = 3
	}
	if cfg.Upload.RescheduleInterval == 0 {
		cfg.Upload.RescheduleInterval = 2 * time.Second
	}
	if cfg.Upload.StaleProcessingAfter == 0 {
		cfg.Upload.StaleProcessingAfter = 10 * time.Minute
	}
	if cfg.Upload.LeaseTTL == 0 {
		cfg.Upload.LeaseTTL = 5 * time.Minute
	}
	if cfg.Upload.SpillThreshold == 0 {
		cfg.Upload.SpillThreshold = 8 << 20 // 8MB
	}

	if cfg.Sync.StaleAfter == 0 {
		cfg.Sync.StaleAfter = 7 * 24 * time.Hour
	}
	if cfg.Sync.CheckInterval == 0 {
		cfg.Sync.CheckInterval = time.Hour
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 10 * time.Minute
	}

	if cfg.Connectivity.CheckInterval == 0 {
		cfg.Connectivity.CheckInterval = 30 * time.Second
	}
	if cfg.Connectivity.CheckTimeout == 0 {
		cfg.Connectivity.CheckTimeout = 5 * time.Second
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "uploads/"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8787"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 64 << 20 // 64MB
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = time.Minute
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Commerce.BaseURL == "" {
		return fmt.Errorf("commerce.base_url is required")
	}
	if u, err := url.Parse(c.Commerce.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("commerce.base_url must be an absolute URL, got %q", c.Commerce.BaseURL)
	}
	if !strings.Contains(c.Commerce.ResourcePath, "%s") {
		return fmt.Errorf("commerce.resource_path must contain %%s")
	}

	switch c.Cache.Backend {
	case "gorm", "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.backend=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("cache.backend must be gorm, redis or memory, got %q", c.Cache.Backend)
	}

	if c.Upload.MaxRetries < 1 {
		return fmt.Errorf("upload.max_retries must be positive")
	}
	if c.Upload.SubmitTimeout < 0 {
		return fmt.Errorf("upload.submit_timeout cannot be negative")
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}
	return nil
}

// DSN returns the postgres connection string with properly escaped values
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

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ResourceURL returns the absolute URL of a static resource
func (c *CommerceConfig) ResourceURL(name string) string {
	return strings.TrimRight(c.BaseURL, "/") + fmt.Sprintf(c.ResourcePath, name)
}

// SubmitURL returns the absolute URL of the submission endpoint
func (c *CommerceConfig) SubmitURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.SubmitPath
}

// EndpointURL resolves a backend path against the base URL
func (c *CommerceConfig) EndpointURL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
