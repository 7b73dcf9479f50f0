package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"fixdesk/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RefreshChannel        string
	AMQPURL               string
	EventsExchange        string
	AuthSecret            string
	AccessTokenTTLMinutes int
	StockPolicy           domain.StockPolicy
	ServiceName           string
}

// Load reads configuration from the environment. Values from a .env file in
// the working directory are applied first without overriding real variables.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: ignoring unreadable .env file: %v", err)
	}

	tokenTTL := readInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	policy, ok := domain.ParseStockPolicy(strings.ToLower(getEnv("STOCK_POLICY", string(domain.StockPermissive))))
	if !ok {
		log.Printf("[config] WARN: unknown STOCK_POLICY, using %s", domain.StockPermissive)
		policy = domain.StockPermissive
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MigrateOnStart:        readBool("MIGRATE_ON_START", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               readInt("REDIS_DB", 0),
		RefreshChannel:        getEnv("REFRESH_CHANNEL", "fixdesk:views:stale"),
		AMQPURL:               os.Getenv("AMQP_URL"),
		EventsExchange:        getEnv("EVENTS_EXCHANGE", "fixdesk.events"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		StockPolicy:           policy,
		ServiceName:           getEnv("OTEL_SERVICE_NAME", "fixdesk-backend"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
