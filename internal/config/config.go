package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application runtime configuration.
type Config struct {
	Env               string
	HTTPPort          string
	DatabaseURL       string
	AutoMigrate       bool
	SeedCatalog       bool
	JWTSecret         string
	DefaultOutletName string
	WebhookSecrets    map[string]string
	RateLimit         int
	WebhookRateLimit  int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            LoggerConfig
	Kafka             KafkaConfig
	Outbox            OutboxConfig
	Tracing           TracingConfig
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type OutboxConfig struct {
	Buffer int
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Load reads environment variables and .env (if present).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:               getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AutoMigrate:       getBool("AUTO_MIGRATE", true),
		SeedCatalog:       getBool("SEED_CATALOG", false),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		DefaultOutletName: getEnv("DEFAULT_OUTLET_NAME", "Gudang Utama"),
		WebhookSecrets: map[string]string{
			"SHOPEE": os.Getenv("WEBHOOK_SECRET_SHOPEE"),
			"TIKTOK": os.Getenv("WEBHOOK_SECRET_TIKTOK"),
		},
		RateLimit:        getInt("RATE_LIMIT_PER_MINUTE", 200),
		WebhookRateLimit: getInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600),
		ReadTimeout:      getDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:      getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Kafka: KafkaConfig{
			Brokers:      getSlice("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_TOPIC_NOTIFICATIONS", "inventory.notifications"),
			BatchTimeout: getDuration("KAFKA_BATCH_TIMEOUT", 50*time.Millisecond),
		},
		Outbox: OutboxConfig{
			Buffer: getInt("OUTBOX_BUFFER", 256),
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "stockledger-backend"),
			Insecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}

	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET is required")
	}
	if cfg.DatabaseURL == "" && cfg.IsProduction() {
		return cfg, errors.New("DATABASE_URL is required in production")
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// WebhookSecret returns the configured secret for a channel.
func (c Config) WebhookSecret(channel string) string {
	return c.WebhookSecrets[strings.ToUpper(channel)]
}

func getEnv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		// Support seconds as integer without suffix.
		if secs, convErr := strconv.Atoi(val); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func getSlice(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
