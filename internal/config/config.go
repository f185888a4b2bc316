package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the session gateway. Timing values are
// configuration rather than constants because the right numbers depend on
// deployment latency, not on anything this core can see.
type Config struct {
	Port         string
	SessionToken string
	UserID       string

	PushURL          string
	DirectoryBaseURL string
	HistoryBaseURL   string
	SubmitBaseURL    string
	UserBaseURL      string

	TypingTTL        time.Duration
	TypingDebounce   time.Duration
	PollInterval     time.Duration
	PageSize         int
	ReconnectBase    time.Duration
	ReconnectCap     time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	NameCacheTTL     time.Duration

	AMQPURL      string
	AMQPExchange string
	Environment  string
	OTLPEndpoint string
	DebugRoutes  bool
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	cfg := Config{
		Port:         getEnv("PORT", "8083"),
		SessionToken: os.Getenv("SESSION_TOKEN"),
		UserID:       os.Getenv("SESSION_USER_ID"),

		PushURL:          getEnv("PUSH_URL", "ws://localhost:8090/ws"),
		DirectoryBaseURL: getEnv("DIRECTORY_BASE_URL", "http://localhost:8091"),
		HistoryBaseURL:   getEnv("HISTORY_BASE_URL", "http://localhost:8092"),
		SubmitBaseURL:    getEnv("SUBMIT_BASE_URL", "http://localhost:8092"),
		UserBaseURL:      getEnv("USER_BASE_URL", "http://localhost:8093"),

		TypingTTL:        getDuration("TYPING_TTL", 5*time.Second),
		TypingDebounce:   getDuration("TYPING_DEBOUNCE", 2*time.Second),
		PollInterval:     getDuration("POLL_INTERVAL", 4*time.Second),
		PageSize:         getInt("PAGE_SIZE", 50),
		ReconnectBase:    getDuration("RECONNECT_BASE", time.Second),
		ReconnectCap:     getDuration("RECONNECT_CAP", 30*time.Second),
		HandshakeTimeout: getDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		RequestTimeout:   getDuration("REQUEST_TIMEOUT", 10*time.Second),
		NameCacheTTL:     getDuration("NAME_CACHE_TTL", 5*time.Minute),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chat_events"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		DebugRoutes:  getBool("DEBUG_ROUTES", false),
	}

	if cfg.SessionToken == "" {
		return Config{}, fmt.Errorf("SESSION_TOKEN is required")
	}
	if cfg.UserID == "" {
		return Config{}, fmt.Errorf("SESSION_USER_ID is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("invalid duration for %s=%q, using %s", key, val, fallback)
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("invalid int for %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
