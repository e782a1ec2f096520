package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/types"
)

// Config carries every environment-driven setting for the service.
type Config struct {
	Env   string
	Port  string
	Debug bool

	DatabasePath string
	RedisAddr    string
	AMQPURL      string

	JWTSecret string

	PSPBaseURL       string
	PSPAPIKey        string
	PSPTimeout       time.Duration
	QuotationBaseURL string
	OperationBaseURL string

	MarketOpen string
	Holidays   []string

	GroupingInterval  time.Duration
	QuotationInterval time.Duration
	FillSyncInterval  time.Duration

	ExchangeQuotationEnabled bool

	DefaultSendCode    types.SettlementDateCode
	DefaultReceiveCode types.SettlementDateCode
}

// Load reads configuration from the environment, with .env as a fallback for
// local development. Missing keys fall back to defaults suitable for dev.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	return &Config{
		Env:   getEnv("ENV", "development"),
		Port:  getEnv("PORT", "8080"),
		Debug: getBool("DEBUG", false),

		DatabasePath: getEnv("DATABASE_PATH", "settlement.db"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", "otc-settlement-secret"),

		PSPBaseURL:       getEnv("PSP_BASE_URL", ""),
		PSPAPIKey:        getEnv("PSP_API_KEY", ""),
		PSPTimeout:       getDuration("PSP_TIMEOUT", 10*time.Second),
		QuotationBaseURL: getEnv("QUOTATION_BASE_URL", ""),
		OperationBaseURL: getEnv("OPERATION_BASE_URL", ""),

		MarketOpen: getEnv("MARKET_OPEN", "09:00"),
		Holidays:   splitList(getEnv("HOLIDAYS", "")),

		GroupingInterval:  getDuration("GROUPING_INTERVAL", 10*time.Second),
		QuotationInterval: getDuration("QUOTATION_INTERVAL", 30*time.Second),
		FillSyncInterval:  getDuration("FILL_SYNC_INTERVAL", 15*time.Second),

		ExchangeQuotationEnabled: getBool("EXCHANGE_QUOTATION_ENABLED", true),

		DefaultSendCode:    types.SettlementDateCode(getEnv("DEFAULT_SEND_DATE", "D0")),
		DefaultReceiveCode: types.SettlementDateCode(getEnv("DEFAULT_RECEIVE_DATE", "D1")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid boolean in environment, using fallback")
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration in environment, using fallback")
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
