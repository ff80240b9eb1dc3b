package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Breaker BreakerConfig

	AllocationLockTTLSeconds int
}

// BreakerConfig holds the default thresholds applied to newly
// registered circuit breakers. Individual providers can override them
// at registration time.
type BreakerConfig struct {
	FailureThreshold    int
	MonitorWindowMS     int
	ResetTimeoutMS      int
	HalfOpenMaxAttempts int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "flowgate"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "flowgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Breaker: BreakerConfig{
			FailureThreshold:    getenvInt("BREAKER_FAILURE_THRESHOLD", 5),
			MonitorWindowMS:     getenvInt("BREAKER_MONITOR_WINDOW_MS", 60000),
			ResetTimeoutMS:      getenvInt("BREAKER_RESET_TIMEOUT_MS", 30000),
			HalfOpenMaxAttempts: getenvInt("BREAKER_HALF_OPEN_MAX_ATTEMPTS", 3),
		},

		AllocationLockTTLSeconds: getenvInt("ALLOCATION_LOCK_TTL_SECONDS", 10),
	}

	return cfg
}

// Module provides the loaded configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, raw)
		return fallback
	}
	return value
}
