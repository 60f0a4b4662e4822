package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Broadcast BroadcastConfig
	Ticker    TickerConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string

	// Zone used to compute "today" for queue dates
	TimeZone string

	// "postgres" or "memory"
	StoreBackend string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// QueueConfig selects the event bus backend
type QueueConfig struct {
	Type      string // "memory" or "redis"
	Topic     string
	BufferLen int
}

// RedisConfig holds Redis connection settings for the redis event bus
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds snapshot cache settings
type CacheConfig struct {
	Enabled     bool
	SnapshotTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
}

// AuthConfig holds settings for the login collaborator
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	TokenTTL  time.Duration

	// username -> bcrypt hash
	Users map[string]string
}

// BroadcastConfig holds WebSocket keep-alive settings
type BroadcastConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

// TickerConfig holds background task cadence
type TickerConfig struct {
	ElapsedInterval time.Duration
	StatsInterval   time.Duration
}

// RateLimitConfig bounds login attempts per client address. A zero limit
// disables the check.
type RateLimitConfig struct {
	LoginLimit  int64
	LoginWindow time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	users, err := parseUsers(v.GetString("AUTH_USERS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:         serviceName,
			Port:         v.GetInt("PORT"),
			Environment:  v.GetString("ENVIRONMENT"),
			LogLevel:     v.GetString("LOG_LEVEL"),
			LogFormat:    v.GetString("LOG_FORMAT"),
			TimeZone:     v.GetString("QUEUE_TIMEZONE"),
			StoreBackend: v.GetString("STORE_BACKEND"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("POSTGRES_HOST"),
			Port:        v.GetInt("POSTGRES_PORT"),
			Database:    v.GetString("POSTGRES_DB"),
			User:        v.GetString("POSTGRES_USER"),
			Password:    v.GetString("POSTGRES_PASSWORD"),
			MaxConns:    v.GetInt("POSTGRES_MAX_CONNS"),
			MinConns:    v.GetInt("POSTGRES_MIN_CONNS"),
			MaxIdleTime: v.GetDuration("POSTGRES_MAX_IDLE_TIME"),
			MaxLifetime: v.GetDuration("POSTGRES_MAX_LIFETIME"),
		},
		Queue: QueueConfig{
			Type:      v.GetString("QUEUE_TYPE"),
			Topic:     v.GetString("QUEUE_TOPIC"),
			BufferLen: v.GetInt("QUEUE_BUFFER"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Enabled:     v.GetBool("CACHE_ENABLED"),
			SnapshotTTL: v.GetDuration("CACHE_SNAPSHOT_TTL"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   v.GetBool("ENABLE_PPROF"),
			PprofPort:     v.GetInt("PPROF_PORT"),
			EnableMetrics: v.GetBool("ENABLE_METRICS"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("AUTH_ENABLED"),
			JWTSecret: v.GetString("JWT_SECRET"),
			TokenTTL:  v.GetDuration("JWT_TTL"),
			Users:     users,
		},
		Broadcast: BroadcastConfig{
			PingInterval:   v.GetDuration("WS_PING_INTERVAL"),
			PongWait:       v.GetDuration("WS_PONG_WAIT"),
			WriteWait:      v.GetDuration("WS_WRITE_WAIT"),
			SendBuffer:     v.GetInt("WS_SEND_BUFFER"),
			MaxMessageSize: v.GetInt64("WS_MAX_MESSAGE_SIZE"),
		},
		Ticker: TickerConfig{
			ElapsedInterval: v.GetDuration("ELAPSED_TICK_INTERVAL"),
			StatsInterval:   v.GetDuration("STATS_TICK_INTERVAL"),
		},
		RateLimit: RateLimitConfig{
			LoginLimit:  v.GetInt64("LOGIN_RATE_LIMIT"),
			LoginWindow: v.GetDuration("LOGIN_RATE_WINDOW"),
		},
	}

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("QUEUE_TIMEZONE", "Local")
	v.SetDefault("STORE_BACKEND", "postgres")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_DB", "queueboard")
	v.SetDefault("POSTGRES_USER", "queueboard")
	v.SetDefault("POSTGRES_PASSWORD", "queueboard")
	v.SetDefault("POSTGRES_MAX_CONNS", 20)
	v.SetDefault("POSTGRES_MIN_CONNS", 2)
	v.SetDefault("POSTGRES_MAX_IDLE_TIME", 30*time.Minute)
	v.SetDefault("POSTGRES_MAX_LIFETIME", time.Hour)

	v.SetDefault("QUEUE_TYPE", "memory")
	v.SetDefault("QUEUE_TOPIC", "queueboard:events")
	v.SetDefault("QUEUE_BUFFER", 1024)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_SNAPSHOT_TTL", 2*time.Second)

	v.SetDefault("ENABLE_PPROF", false)
	v.SetDefault("PPROF_PORT", 6060)
	v.SetDefault("ENABLE_METRICS", true)

	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("JWT_TTL", 12*time.Hour)

	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("WS_PONG_WAIT", 120*time.Second)
	v.SetDefault("WS_WRITE_WAIT", 10*time.Second)
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 64*1024)

	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", time.Minute)

	v.SetDefault("ELAPSED_TICK_INTERVAL", 10*time.Second)
	v.SetDefault("STATS_TICK_INTERVAL", 30*time.Second)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Service.StoreBackend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Service.StoreBackend)
	}

	if c.Queue.Type != "memory" && c.Queue.Type != "redis" {
		return fmt.Errorf("unknown queue type: %s", c.Queue.Type)
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED is true")
	}

	if c.Broadcast.PongWait <= c.Broadcast.PingInterval {
		return fmt.Errorf("WS_PONG_WAIT (%s) must exceed WS_PING_INTERVAL (%s)",
			c.Broadcast.PongWait, c.Broadcast.PingInterval)
	}

	if c.Ticker.ElapsedInterval <= 0 || c.Ticker.StatsInterval <= 0 {
		return fmt.Errorf("ticker intervals must be positive")
	}

	if c.RateLimit.LoginLimit > 0 && c.RateLimit.LoginWindow <= 0 {
		return fmt.Errorf("LOGIN_RATE_WINDOW must be positive when LOGIN_RATE_LIMIT is set")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// parseUsers reads "name:bcrypthash,name2:hash2"
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	if raw == "" {
		return users, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		name, hash, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid AUTH_USERS entry %q, want name:bcrypt-hash", entry)
		}
		users[name] = hash
	}
	return users, nil
}
