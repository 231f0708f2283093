package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	APIBaseURL     string
	JWTSecret      string
	AllowedOrigins []string

	// RequestTimeout bounds authenticated calls made by order sessions.
	RequestTimeout time.Duration
	SessionIdleTTL time.Duration

	Poll  PollConfig
	Store StoreConfig

	RabbitMQURL string
	LogLevel    string
	LogFormat   string
}

// PollConfig tunes the new-order poller.
type PollConfig struct {
	ActiveInterval time.Duration
	HiddenInterval time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	ReloadDelay    time.Duration
	ServiceUser    string
}

// StoreConfig is copied into outgoing email payloads only.
type StoreConfig struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8082"),
		APIBaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8081/api"), "/"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 15*time.Second),
		SessionIdleTTL: getDuration("SESSION_IDLE_TTL", 2*time.Hour),
		Poll: PollConfig{
			ActiveInterval: getDuration("POLL_INTERVAL", 5*time.Second),
			HiddenInterval: getDuration("POLL_HIDDEN_INTERVAL", 30*time.Second),
			MaxBackoff:     getDuration("POLL_MAX_BACKOFF", 2*time.Minute),
			Timeout:        getDuration("POLL_TIMEOUT", 5*time.Second),
			ReloadDelay:    getDuration("ALERT_RELOAD_DELAY", 1500*time.Millisecond),
			ServiceUser:    getEnv("POLL_SERVICE_USER", "00000000-0000-0000-0000-000000000001"),
		},
		Store: StoreConfig{
			Name:    getEnv("STORE_NAME", "Kiwari"),
			Email:   getEnv("STORE_EMAIL", ""),
			Phone:   getEnv("STORE_PHONE", ""),
			Address: getEnv("STORE_ADDRESS", ""),
		},
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("5s") or plain milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
