package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port              int
	OpenAIAPIKey      string
	RealtimeAPIKey    string // Long-lived key used for the relay and for minting ephemeral credentials
	RealtimeModel     string
	ChatModel         string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	AgentModel        string
	RedisURL          string
	RedisPassword     string
	MaxSessions       int
	SessionTimeout    time.Duration
	AllowedOrigins    []string
	MaxPendingBytes   int // Maximum bytes buffered per relay pair before the upstream is ready
	HandshakeTimeout  time.Duration
	TranscribeEnabled bool
	LogLevel          string
}

// Default returns the configuration used when no environment overrides are set
func Default() *Config {
	return &Config{
		Port:              8787,
		RealtimeModel:     "gpt-4o-realtime-preview-2024-10-01",
		ChatModel:         "gpt-5-mini-2025-08-07",
		OpenAIBaseURL:     "https://api.openai.com",
		AgentModel:        "gemini-2.5-flash",
		RedisURL:          "",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		MaxPendingBytes:   5 * 1024 * 1024, // 5MB default
		HandshakeTimeout:  10 * time.Second,
		TranscribeEnabled: true,
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from environment variables with defaults.
// Missing credentials are not an error; the endpoints that need them report it.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.RealtimeAPIKey = os.Getenv("OPENAI_REALTIME_API_KEY")
	if config.RealtimeAPIKey == "" {
		config.RealtimeAPIKey = config.OpenAIAPIKey
	}
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if model := os.Getenv("OPENAI_REALTIME_MODEL"); model != "" {
		config.RealtimeModel = model
	}

	if model := os.Getenv("OPENAI_CHAT_MODEL"); model != "" {
		config.ChatModel = model
	}

	// Optional: OPENAI_BASE_URL (tests point this at a local server)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid OPENAI_BASE_URL: %w", err)
		}
		config.OpenAIBaseURL = strings.TrimRight(baseURL, "/")
	}

	if model := os.Getenv("GEMINI_AGENT_MODEL"); model != "" {
		config.AgentModel = model
	}

	// Optional: REDIS_URL (empty disables the metadata mirror)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: RELAY_MAX_PENDING_BYTES
	if pending := os.Getenv("RELAY_MAX_PENDING_BYTES"); pending != "" {
		b, err := strconv.Atoi(pending)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_MAX_PENDING_BYTES: %w", err)
		}
		config.MaxPendingBytes = b
	}

	// Optional: RELAY_HANDSHAKE_TIMEOUT (in seconds)
	if handshake := os.Getenv("RELAY_HANDSHAKE_TIMEOUT"); handshake != "" {
		h, err := strconv.Atoi(handshake)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_HANDSHAKE_TIMEOUT: %w", err)
		}
		config.HandshakeTimeout = time.Duration(h) * time.Second
	}

	if transcribe := os.Getenv("TRANSCRIBE_ENABLED"); transcribe != "" {
		t, err := strconv.ParseBool(transcribe)
		if err != nil {
			return nil, fmt.Errorf("invalid TRANSCRIBE_ENABLED: %w", err)
		}
		config.TranscribeEnabled = t
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	return config, nil
}

// RealtimeSocketURL is the upstream websocket address for the configured realtime model
func (c *Config) RealtimeSocketURL() string {
	base := c.OpenAIBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/realtime?model=" + url.QueryEscape(c.RealtimeModel)
}

// Endpoint joins a provider API path onto the base URL
func (c *Config) Endpoint(path string) string {
	return c.OpenAIBaseURL + path
}
