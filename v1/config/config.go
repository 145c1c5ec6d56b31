// Package config loads the aside binary configuration from an optional file
// and ASIDE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-aside/v1/lock"
	"github.com/mirkobrombin/go-aside/v1/logger"
)

// EnvPrefix prefixes every environment override, e.g. ASIDE_REDIS_ADDR.
const EnvPrefix = "ASIDE"

var (
	storeBackends  = []string{"redis", "memory", "ristretto", "mysql"}
	lockBackends   = []string{"redis", "memory", "nats"}
	eventsBackends = []string{"none", "memory", "redis", "nats", "kafka"}
	codecs         = []string{"json", "gob", "msgpack", "cbor"}
)

// RedisConfig is the shared Redis connection.
type RedisConfig struct {
	// Addr is a single host:port. It is ignored when Addrs is set.
	Addr string `mapstructure:"addr"`
	// Addrs lists cluster or sentinel nodes.
	Addrs      []string `mapstructure:"addrs"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	MasterName string   `mapstructure:"master_name"`
}

// Options returns the go-redis options for this connection.
func (r RedisConfig) Options() *redis.UniversalOptions {
	addrs := r.Addrs
	if len(addrs) == 0 {
		addrs = []string{r.Addr}
	}
	return &redis.UniversalOptions{
		Addrs:      addrs,
		Username:   r.Username,
		Password:   r.Password,
		DB:         r.DB,
		MasterName: r.MasterName,
	}
}

// NATSConfig is the NATS connection used by the nats lock and events
// backends.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LockConfig selects and tunes the lock service.
type LockConfig struct {
	Backend       string `mapstructure:"backend"`
	ExpirySeconds int    `mapstructure:"expiry_seconds"`
	MaxRetries    int    `mapstructure:"max_retries"`
	RetryDelayMS  int    `mapstructure:"retry_delay_ms"`
	// Bucket is the JetStream KV bucket for the nats backend.
	Bucket string `mapstructure:"bucket"`
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// DSN is the database source for the mysql backend.
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	Codec string `mapstructure:"codec"`
	// MaxCost bounds the ristretto backend in payload bytes.
	MaxCost int64 `mapstructure:"max_cost"`
}

// EventsConfig selects where outcomes are published.
type EventsConfig struct {
	Backend      string   `mapstructure:"backend"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// ProduceDelayMS simulates a slow producer.
	ProduceDelayMS  int `mapstructure:"produce_delay_ms"`
	TTLSeconds      int `mapstructure:"ttl_seconds"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// Config is the full binary configuration.
type Config struct {
	Redis  RedisConfig   `mapstructure:"redis"`
	NATS   NATSConfig    `mapstructure:"nats"`
	Lock   LockConfig    `mapstructure:"lock"`
	Store  StoreConfig   `mapstructure:"store"`
	Events EventsConfig  `mapstructure:"events"`
	Log    logger.Config `mapstructure:"log"`
	HTTP   HTTPConfig    `mapstructure:"http"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.master_name", "")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.expiry_seconds", int(lock.DefaultExpiry/time.Second))
	v.SetDefault("lock.max_retries", lock.DefaultMaxRetries)
	v.SetDefault("lock.retry_delay_ms", int(lock.DefaultRetryDelay/time.Millisecond))
	v.SetDefault("lock.bucket", "aside_locks")

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "aside_entries")
	v.SetDefault("store.codec", "json")
	v.SetDefault("store.max_cost", 1<<20)

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "aside-events")

	def := logger.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.encoding", def.Encoding)
	v.SetDefault("log.output_paths", def.OutputPaths)
	v.SetDefault("log.error_output_paths", def.ErrorOutputPaths)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.produce_delay_ms", 5000)
	v.SetDefault("http.ttl_seconds", 2)
	v.SetDefault("http.shutdown_seconds", 10)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path, when not empty, and applies environment overrides on top
// of the defaults. A non-positive lock expiry is coerced to the default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Lock.ExpirySeconds <= 0 {
		cfg.Lock.ExpirySeconds = int(lock.DefaultExpiry / time.Second)
	}
	return &cfg, nil
}

// Validate reports settings the binary cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Lock.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("config: lock.max_retries must be at least 1, got %d", c.Lock.MaxRetries))
	}
	if c.Lock.RetryDelayMS < 0 {
		errs = append(errs, fmt.Errorf("config: lock.retry_delay_ms must not be negative, got %d", c.Lock.RetryDelayMS))
	}
	errs = append(errs,
		oneOf("store.backend", c.Store.Backend, storeBackends),
		oneOf("lock.backend", c.Lock.Backend, lockBackends),
		oneOf("events.backend", c.Events.Backend, eventsBackends),
		oneOf("store.codec", c.Store.Codec, codecs),
	)
	if c.Store.Backend == "mysql" && c.Store.DSN == "" {
		errs = append(errs, errors.New("config: store.dsn is required for the mysql backend"))
	}
	if c.Events.Backend == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("config: events.kafka_brokers is required for the kafka backend"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func oneOf(key, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("config: %s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// RetryPolicy returns the lock retry policy.
func (c *Config) RetryPolicy() lock.RetryPolicy {
	return lock.RetryPolicy{
		Expiry:     time.Duration(c.Lock.ExpirySeconds) * time.Second,
		MaxRetries: c.Lock.MaxRetries,
		RetryDelay: time.Duration(c.Lock.RetryDelayMS) * time.Millisecond,
	}.Normalize()
}

// ProduceDelay is the simulated producer latency of the serve command.
func (h HTTPConfig) ProduceDelay() time.Duration {
	return time.Duration(h.ProduceDelayMS) * time.Millisecond
}

// TTL is the entry TTL used by the serve command.
func (h HTTPConfig) TTL() time.Duration {
	return time.Duration(h.TTLSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (h HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownSeconds) * time.Second
}
