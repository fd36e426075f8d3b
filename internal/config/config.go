package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64

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
	DBConnMaxIdleTime int
	DBAutoMigrate     bool
	DBSlowQuery       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthJWTSecret  string
	AuthTokenTTL   time.Duration
	AuthIPRate     float64
	AuthIPBurst    int
	InviteTokenTTL time.Duration

	ZeusBootstrapEmail    string
	ZeusBootstrapPassword string

	DefaultAPIRateLimit int64

	OrderServiceURL    string
	DriverServiceURL   string
	ForwardSecret      string
	ForwardTimeout     time.Duration
	BillingCronSpec    string
	BillingJobTimeout  time.Duration
	BillingLockTTL     time.Duration
	PricingConfigPaths []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:               getenv("APP_SERVICE", "valkyrie"),
		AppVersion:            getenv("APP_VERSION", "0.1.0"),
		Environment:           getenv("ENVIRONMENT", "development"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		NodeID:                getenvInt64("SNOWFLAKE_NODE_ID", 1),
		LogLevel:              strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:             strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:           getenvBool("OTEL_ENABLED", true),
		OTLPEndpoint:          strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", ""))),
		OTLPProtocol:          strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:     getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		DBType:                getenv("DATABASE_TYPE", "postgres"),
		DBHost:                getenv("DATABASE_HOST", "localhost"),
		DBPort:                getenv("DATABASE_PORT", "5432"),
		DBName:                getenv("DATABASE_NAME", "valkyrie"),
		DBUser:                getenv("DATABASE_USER", "postgres"),
		DBPassword:            getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:             getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:         int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:         int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime:     int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime:     int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:         getenvBool("DATABASE_AUTO_MIGRATE", true),
		DBSlowQuery:           getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),
		RedisAddr:             strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:         getenv("REDIS_PASSWORD", ""),
		RedisDB:               int(getenvInt64("REDIS_DB", 0)),
		AuthJWTSecret:         strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthTokenTTL:          getenvDuration("AUTH_TOKEN_TTL", 12*time.Hour),
		AuthIPRate:            getenvFloat("AUTH_IP_RATE", 1),
		AuthIPBurst:           int(getenvInt64("AUTH_IP_BURST", 10)),
		InviteTokenTTL:        getenvDuration("AUTH_INVITE_TTL", 72*time.Hour),
		ZeusBootstrapEmail:    strings.ToLower(strings.TrimSpace(getenv("ZEUS_BOOTSTRAP_EMAIL", ""))),
		ZeusBootstrapPassword: getenv("ZEUS_BOOTSTRAP_PASSWORD", ""),
		DefaultAPIRateLimit:   getenvInt64("DEFAULT_API_RATE_LIMIT", 1000),
		OrderServiceURL:       strings.TrimRight(getenv("ORDER_SERVICE_URL", ""), "/"),
		DriverServiceURL:      strings.TrimRight(getenv("DRIVER_SERVICE_URL", ""), "/"),
		ForwardSecret:         getenv("FORWARD_WEBHOOK_SECRET", ""),
		ForwardTimeout:        getenvDuration("FORWARD_TIMEOUT", 10*time.Second),
		BillingCronSpec:       getenv("BILLING_CRON", "0 2 1 * *"),
		BillingJobTimeout:     getenvDuration("BILLING_JOB_TIMEOUT", 10*time.Minute),
		BillingLockTTL:        getenvDuration("BILLING_LOCK_TTL", 30*time.Minute),
		PricingConfigPaths:    splitList(getenv("PRICING_CONFIG_PATHS", "/etc/valkyrie,.")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
