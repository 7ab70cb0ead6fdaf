// Package config loads and validates crawlguard configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Backlog    BacklogConfig    `mapstructure:"backlog"`
	Alert      AlertConfig      `mapstructure:"alert"`
	DB         DBConfig         `mapstructure:"db"`
	Events     EventsConfig     `mapstructure:"events"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the per-worker HTTP server.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	ListenRetryMs     int `mapstructure:"listen_retry_ms"`
	ShutdownTimeoutMs int `mapstructure:"shutdown_timeout_ms"`
}

// SupervisorConfig governs the worker pool. Workers == 0 means one worker per
// available execution unit.
type SupervisorConfig struct {
	Workers      int `mapstructure:"workers"`
	SpawnRetryMs int `mapstructure:"spawn_retry_ms"`
}

// RedisConfig names the two independent stores the service depends on.
type RedisConfig struct {
	Primary   RedisEndpoint `mapstructure:"primary"`
	RateLimit RedisEndpoint `mapstructure:"ratelimit"`
}

// RedisEndpoint is a single Redis connection target.
type RedisEndpoint struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig locates the job queue inside the primary store.
type QueueConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
}

// ProbeConfig controls the dependency round-trip probe.
type ProbeConfig struct {
	Attempts int    `mapstructure:"attempts"`
	DelayMs  int    `mapstructure:"delay_ms"`
	Key      string `mapstructure:"key"`
	Value    string `mapstructure:"value"`
}

// BacklogConfig tunes the backpressure monitor.
type BacklogConfig struct {
	Threshold        int64 `mapstructure:"threshold"`
	ConfirmDelayMs   int   `mapstructure:"confirm_delay_ms"`
	DebounceWindowMs int   `mapstructure:"debounce_window_ms"`
}

// AlertConfig wires outward notification transports. An empty webhook URL and
// empty pubsub topic leave alerting silently disabled.
type AlertConfig struct {
	WebhookURL string      `mapstructure:"webhook_url"`
	TimeoutMs  int         `mapstructure:"timeout_ms"`
	PubSub     PubSubAlert `mapstructure:"pubsub"`
}

// PubSubAlert holds metadata for publishing alerts to a Pub/Sub topic.
type PubSubAlert struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// DBConfig controls the durable lifecycle-event store. An empty DSN disables
// database persistence (events still flow to the log and metrics sinks).
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EventsConfig controls buffering of the lifecycle-event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"batch_events"`
	MaxBatchWaitMs int `mapstructure:"batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.listen_retry_ms", 1000)
	v.SetDefault("server.shutdown_timeout_ms", 10000)
	v.SetDefault("supervisor.workers", 0)
	v.SetDefault("supervisor.spawn_retry_ms", 1000)
	v.SetDefault("redis.primary.addr", "localhost:6379")
	v.SetDefault("redis.primary.db", 0)
	v.SetDefault("redis.ratelimit.addr", "")
	v.SetDefault("redis.ratelimit.db", 1)
	v.SetDefault("queue.name", "crawl")
	v.SetDefault("queue.prefix", "bull")
	v.SetDefault("probe.attempts", 3)
	v.SetDefault("probe.delay_ms", 2000)
	v.SetDefault("probe.key", "crawlguard:probe")
	v.SetDefault("probe.value", "ok")
	v.SetDefault("backlog.threshold", 100)
	v.SetDefault("backlog.confirm_delay_ms", 60000)
	v.SetDefault("backlog.debounce_window_ms", 900000)
	v.SetDefault("alert.timeout_ms", 5000)
	v.SetDefault("db.table", "queue_events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.batch_events", 256)
	v.SetDefault("events.batch_wait_ms", 500)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Supervisor.Workers < 0 {
		return fmt.Errorf("supervisor.workers must be >= 0")
	}
	if c.Redis.Primary.Addr == "" {
		return fmt.Errorf("redis.primary.addr must be set")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name must be set")
	}
	if c.Probe.Attempts <= 0 {
		return fmt.Errorf("probe.attempts must be > 0")
	}
	if c.Probe.DelayMs < 0 {
		return fmt.Errorf("probe.delay_ms must be >= 0")
	}
	if c.Backlog.Threshold < 0 {
		return fmt.Errorf("backlog.threshold must be >= 0")
	}
	if c.Backlog.ConfirmDelayMs <= 0 {
		return fmt.Errorf("backlog.confirm_delay_ms must be > 0")
	}
	return nil
}

// RateLimitEndpoint resolves the rate-limit store target, falling back to the
// primary address (separate logical DB) when no dedicated address is set.
func (c Config) RateLimitEndpoint() RedisEndpoint {
	ep := c.Redis.RateLimit
	if ep.Addr == "" {
		ep.Addr = c.Redis.Primary.Addr
		ep.Password = c.Redis.Primary.Password
	}
	return ep
}

// ProbeDelay converts the inter-attempt delay into a duration.
func (c Config) ProbeDelay() time.Duration {
	return time.Duration(c.Probe.DelayMs) * time.Millisecond
}

// ConfirmDelay converts the backlog confirm delay into a duration.
func (c Config) ConfirmDelay() time.Duration {
	return time.Duration(c.Backlog.ConfirmDelayMs) * time.Millisecond
}

// DebounceWindow converts the alert debounce window into a duration.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.Backlog.DebounceWindowMs) * time.Millisecond
}

// ListenRetryDelay is the fixed wait between listen attempts when the address
// is already in use.
func (c Config) ListenRetryDelay() time.Duration {
	return time.Duration(c.Server.ListenRetryMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

// AlertTimeout bounds one webhook delivery attempt.
func (c Config) AlertTimeout() time.Duration {
	return time.Duration(c.Alert.TimeoutMs) * time.Millisecond
}

// BatchWait converts the hub flush interval into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}

// SpawnRetryDelay is the fixed wait before retrying a failed worker spawn.
func (c Config) SpawnRetryDelay() time.Duration {
	return time.Duration(c.Supervisor.SpawnRetryMs) * time.Millisecond
}
