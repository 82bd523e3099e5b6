package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Presence  PresenceConfig  `yaml:"presence"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PresenceConfig struct {
	// SeatLockTTL bounds how long a crashed holder can keep a streamer's
	// seat lock. Acquisition waits at most SeatLockWait before giving up.
	SeatLockTTL  time.Duration `yaml:"seat_lock_ttl"`
	SeatLockWait time.Duration `yaml:"seat_lock_wait"`

	// StaleAfter is how long a participant may go without a ping before the
	// sweep evicts it. SweepInterval is how often the sweep runs.
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepPageSize int           `yaml:"sweep_page_size"`
}

type TransportConfig struct {
	WSReadLimit     int64         `yaml:"ws_read_limit"`
	WSWriteTimeout  time.Duration `yaml:"ws_write_timeout"`
	WSPongTimeout   time.Duration `yaml:"ws_pong_timeout"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:            getEnv("COORD_HOST", "0.0.0.0"),
			Port:            getEnvInt("COORD_PORT", 8080),
			ReadTimeout:     time.Duration(getEnvInt("COORD_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("COORD_WRITE_TIMEOUT", 30)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("COORD_SHUTDOWN_TIMEOUT", 10)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Presence: PresenceConfig{
			SeatLockTTL:   time.Duration(getEnvInt("COORD_SEAT_LOCK_TTL_MS", 5000)) * time.Millisecond,
			SeatLockWait:  time.Duration(getEnvInt("COORD_SEAT_LOCK_WAIT_MS", 5000)) * time.Millisecond,
			StaleAfter:    time.Duration(getEnvInt("COORD_STALE_AFTER_SEC", 120)) * time.Second,
			SweepInterval: time.Duration(getEnvInt("COORD_SWEEP_INTERVAL_SEC", 5)) * time.Second,
			SweepPageSize: getEnvInt("COORD_SWEEP_PAGE_SIZE", 100),
		},
		Transport: TransportConfig{
			WSReadLimit:     int64(getEnvInt("COORD_WS_READ_LIMIT", 524288)),
			WSWriteTimeout:  time.Duration(getEnvInt("COORD_WS_WRITE_TIMEOUT", 10)) * time.Second,
			WSPongTimeout:   time.Duration(getEnvInt("COORD_WS_PONG_TIMEOUT", 60)) * time.Second,
			WSPingInterval:  time.Duration(getEnvInt("COORD_WS_PING_INTERVAL", 54)) * time.Second,
			RateLimitPerSec: float64(getEnvInt("COORD_RATE_LIMIT_PER_SEC", 20)),
			RateLimitBurst:  getEnvInt("COORD_RATE_LIMIT_BURST", 40),
		},
		Auth: AuthConfig{
			Secret:   getEnv("COORD_AUTH_SECRET", ""),
			TokenTTL: time.Duration(getEnvInt("COORD_TOKEN_TTL_SEC", 86400)) * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
