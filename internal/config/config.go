package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TOWNDIR_REDIS_URL.
const EnvPrefix = "TOWNDIR"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" envconfig:"server"`
	Database  DatabaseConfig  `mapstructure:"database" envconfig:"database"`
	Redis     RedisConfig     `mapstructure:"redis" envconfig:"redis"`
	Cache     CacheConfig     `mapstructure:"cache" envconfig:"cache"`
	Email     EmailConfig     `mapstructure:"email" envconfig:"email"`
	SMTP      SMTPConfig      `mapstructure:"smtp" envconfig:"smtp"`
	Tokens    TokenConfig     `mapstructure:"tokens" envconfig:"tokens"`
	Admin     AdminConfig     `mapstructure:"admin" envconfig:"admin"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" envconfig:"rate_limit"`
	Log       LogConfig       `mapstructure:"log" envconfig:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" envconfig:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" envconfig:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"request_timeout"`
	MetricsPrefix  string        `mapstructure:"metrics_prefix" envconfig:"metrics_prefix"`
	// TLS marks the public URL as https so HSTS is sent.
	TLS bool `mapstructure:"tls" envconfig:"tls"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" envconfig:"host"`
	Port     int    `mapstructure:"port" envconfig:"port"`
	User     string `mapstructure:"user" envconfig:"user"`
	Password string `mapstructure:"password" envconfig:"password"`
	Name     string `mapstructure:"name" envconfig:"name"`
	SSLMode  string `mapstructure:"sslmode" envconfig:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open_conns" envconfig:"max_open_conns"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL                 string        `mapstructure:"url" envconfig:"url"`
	MaxRetries          int           `mapstructure:"max_retries" envconfig:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff" envconfig:"retry_backoff"`
	PoolSize            int           `mapstructure:"pool_size" envconfig:"pool_size"`
	MinIdleConns        int           `mapstructure:"min_idle_conns" envconfig:"min_idle_conns"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout" envconfig:"dial_timeout"`
	InvalidationChannel string        `mapstructure:"invalidation_channel" envconfig:"invalidation_channel"`
}

type CacheConfig struct {
	KeyPrefix           string        `mapstructure:"key_prefix" envconfig:"key_prefix"`
	MemoryTTL           time.Duration `mapstructure:"memory_ttl" envconfig:"memory_ttl"`
	RedisTTL            time.Duration `mapstructure:"redis_ttl" envconfig:"redis_ttl"`
	MemoryMaxEntries    int           `mapstructure:"memory_max_entries" envconfig:"memory_max_entries"`
	MemoryMaxBytes      int64         `mapstructure:"memory_max_bytes" envconfig:"memory_max_bytes"`
	RemoteTimeout       time.Duration `mapstructure:"remote_timeout" envconfig:"remote_timeout"`
	InvalidationRetries int           `mapstructure:"invalidation_retries" envconfig:"invalidation_retries"`
	BreakerFailures     int           `mapstructure:"breaker_failures" envconfig:"breaker_failures"`
	BreakerCooldown     time.Duration `mapstructure:"breaker_cooldown" envconfig:"breaker_cooldown"`
}

type EmailConfig struct {
	From         string        `mapstructure:"from" envconfig:"from"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"max_retries"`
	BatchSize    int           `mapstructure:"batch_size" envconfig:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" envconfig:"poll_interval"`
	SendRate     float64       `mapstructure:"send_rate" envconfig:"send_rate"`
	SendBurst    int           `mapstructure:"send_burst" envconfig:"send_burst"`
	StuckAfter   time.Duration `mapstructure:"stuck_after" envconfig:"stuck_after"`
	AutoRetry    bool          `mapstructure:"auto_retry" envconfig:"auto_retry"`
	// Transport is "smtp" or "log".
	Transport string `mapstructure:"transport" envconfig:"transport"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"host"`
	Port     int    `mapstructure:"port" envconfig:"port"`
	Username string `mapstructure:"username" envconfig:"username"`
	Password string `mapstructure:"password" envconfig:"password"`
	SSL      bool   `mapstructure:"ssl" envconfig:"ssl"`
}

type TokenConfig struct {
	OptOutTTL       time.Duration `mapstructure:"opt_out_ttl" envconfig:"opt_out_ttl"`
	MagicLinkTTL    time.Duration `mapstructure:"magic_link_ttl" envconfig:"magic_link_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" envconfig:"cleanup_interval"`
	BaseURL         string        `mapstructure:"base_url" envconfig:"base_url"`
}

type AdminConfig struct {
	// JWTSecret enables the bearer gate on admin routes when set.
	JWTSecret string `mapstructure:"jwt_secret" envconfig:"jwt_secret"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" envconfig:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" envconfig:"requests_per_second"`
	Burst             int     `mapstructure:"burst" envconfig:"burst"`
	// Unsubscribe links are public and carry secrets, so they get a tighter bucket.
	UnsubscribePerSecond float64 `mapstructure:"unsubscribe_per_second" envconfig:"unsubscribe_per_second"`
	UnsubscribeBurst     int     `mapstructure:"unsubscribe_burst" envconfig:"unsubscribe_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"level"`
	Pretty bool   `mapstructure:"pretty" envconfig:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.metrics_prefix", "towndir_http")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "towndir")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 1)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 500*time.Millisecond)
	v.SetDefault("redis.invalidation_channel", "towndir:cache:invalidate")

	v.SetDefault("cache.key_prefix", "towndir:v1:")
	v.SetDefault("cache.memory_ttl", 5*time.Minute)
	v.SetDefault("cache.redis_ttl", time.Hour)
	v.SetDefault("cache.memory_max_entries", 10000)
	v.SetDefault("cache.memory_max_bytes", 64<<20)
	v.SetDefault("cache.remote_timeout", 150*time.Millisecond)
	v.SetDefault("cache.invalidation_retries", 3)
	v.SetDefault("cache.breaker_failures", 5)
	v.SetDefault("cache.breaker_cooldown", 10*time.Second)

	v.SetDefault("email.from", "noreply@towndir.local")
	v.SetDefault("email.max_retries", 3)
	v.SetDefault("email.batch_size", 100)
	v.SetDefault("email.poll_interval", 10*time.Second)
	v.SetDefault("email.send_rate", 10.0)
	v.SetDefault("email.send_burst", 5)
	v.SetDefault("email.stuck_after", 15*time.Minute)
	v.SetDefault("email.transport", "smtp")

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 25)

	v.SetDefault("tokens.opt_out_ttl", 14*24*time.Hour)
	v.SetDefault("tokens.magic_link_ttl", 24*time.Hour)
	v.SetDefault("tokens.cleanup_interval", time.Hour)
	v.SetDefault("tokens.base_url", "http://localhost:8080")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.unsubscribe_per_second", 0.2)
	v.SetDefault("rate_limit.unsubscribe_burst", 5)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual locations (or path, when set),
// overlays TOWNDIR_* environment variables and validates the result. A
// missing config file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces cross-field invariants.
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.MemoryTTL <= 0 || c.Cache.RedisTTL <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Cache.MemoryTTL > c.Cache.RedisTTL {
		errs = append(errs, fmt.Errorf("cache.memory_ttl (%s) must not exceed cache.redis_ttl (%s)", c.Cache.MemoryTTL, c.Cache.RedisTTL))
	}
	if c.Cache.KeyPrefix == "" {
		errs = append(errs, errors.New("cache.key_prefix must not be empty"))
	}
	if c.Cache.MemoryMaxEntries <= 0 {
		errs = append(errs, errors.New("cache.memory_max_entries must be greater than 0"))
	}
	if c.Email.MaxRetries < 1 {
		errs = append(errs, errors.New("email.max_retries must be at least 1"))
	}
	if c.Email.BatchSize <= 0 {
		errs = append(errs, errors.New("email.batch_size must be greater than 0"))
	}
	if c.Email.PollInterval <= 0 {
		errs = append(errs, errors.New("email.poll_interval must be greater than 0"))
	}
	if c.Tokens.OptOutTTL <= 0 || c.Tokens.MagicLinkTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.Tokens.CleanupInterval <= 0 {
		errs = append(errs, errors.New("tokens.cleanup_interval must be greater than 0"))
	}
	switch c.Email.Transport {
	case "smtp", "log":
	default:
		errs = append(errs, fmt.Errorf("email.transport %q must be smtp or log", c.Email.Transport))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
