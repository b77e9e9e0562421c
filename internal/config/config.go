package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName    string
	HTTPAddr       string
	GRPCAddr       string
	EndpointPrefix string
	GinMode        string
	LogLevel       string

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	ConsulAddr string
	JWTSecret  string

	CartMaxRetries  int
	ShippingFlatFee int64
}

type DBConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	RateTTL  time.Duration
}

type KafkaConfig struct {
	Brokers []string
}

// DSN returns DATABASE_URL when set, otherwise a keyword/value DSN built from the DB_* variables.
func (d DBConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.DBName,
		d.SSLMode,
	)
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "storefront"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":50051"),
		EndpointPrefix: getEnv("SERVICE_ENDPOINT_PREFIX", "/api/v1"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DB: DBConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "app_user"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "storefront"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			RateTTL:  getEnvAsDuration("RATE_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
		},
		ConsulAddr:      getEnv("CONSUL_ADDR", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		CartMaxRetries:  getEnvAsInt("CART_MAX_RETRIES", 5),
		ShippingFlatFee: int64(getEnvAsInt("SHIPPING_FLAT_FEE", 0)),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	if cfg.CartMaxRetries < 1 {
		cfg.CartMaxRetries = 1
	}
	if cfg.ShippingFlatFee < 0 {
		return nil, fmt.Errorf("SHIPPING_FLAT_FEE must not be negative, got %d", cfg.ShippingFlatFee)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
