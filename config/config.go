package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Event bootstrap defaults (used when the singleton config record
	// does not exist yet)
	EventName     string
	EventDate     string
	EventLocation string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Paystack configuration
	PaystackSecretKey string
	PaystackBaseURL   string
	CallbackURL       string

	// Purchase configuration
	PlatformFee float64
	MaxQuantity int

	// PubNub configuration (optional realtime push to checkout pages)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubUUID         string

	// Admin configuration: bcrypt hash of the x-admin-token header value
	AdminTokenHash string

	// Timeout configuration
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration

	// Stale pending sweep
	SweepInterval   time.Duration
	StalePendingTTL time.Duration

	// Rate limiting
	ScanRateLimit  int
	ScanRateWindow time.Duration
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Event
		EventName:     getEnv("EVENT_NAME", "FTC MARCH MADNESS"),
		EventDate:     getEnv("EVENT_DATE", "2026-03-07"),
		EventLocation: getEnv("EVENT_LOCATION", "Beach House"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Paystack
		PaystackSecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		CallbackURL:       getEnv("PAYMENT_CALLBACK_URL", ""),

		// Purchase
		PlatformFee: getEnvAsFloat("PLATFORM_FEE", 300),
		MaxQuantity: getEnvAsInt("MAX_QUANTITY", 10),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubUUID:         getEnv("PUBNUB_UUID", "ftc-tickets-server"),

		// Admin
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Timeouts
		GatewayTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", "15s"),
		NotifyTimeout:  getEnvAsDuration("NOTIFY_TIMEOUT", "30s"),

		// Sweep
		SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", "30m"),
		StalePendingTTL: getEnvAsDuration("STALE_PENDING_TTL", "2h"),

		// Rate limiting
		ScanRateLimit:  getEnvAsInt("SCAN_RATE_LIMIT", 30),
		ScanRateWindow: getEnvAsDuration("SCAN_RATE_WINDOW", "1m"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
