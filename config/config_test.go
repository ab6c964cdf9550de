package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "OPENAI_API_KEY", "OPENAI_REALTIME_API_KEY", "OPENAI_REALTIME_MODEL",
		"OPENAI_CHAT_MODEL", "OPENAI_BASE_URL", "GEMINI_API_KEY", "GEMINI_AGENT_MODEL",
		"REDIS_URL", "REDIS_PASSWORD", "MAX_SESSIONS", "SESSION_TIMEOUT", "ALLOWED_ORIGINS",
		"RELAY_MAX_PENDING_BYTES", "RELAY_HANDSHAKE_TIMEOUT", "TRANSCRIBE_ENABLED", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != 8787 {
		t.Errorf("Port = %d, want 8787", cfg.Port)
	}
	if cfg.ChatModel != "gpt-5-mini-2025-08-07" {
		t.Errorf("ChatModel = %q", cfg.ChatModel)
	}
	if cfg.MaxPendingBytes != 5*1024*1024 {
		t.Errorf("MaxPendingBytes = %d", cfg.MaxPendingBytes)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if !cfg.TranscribeEnabled {
		t.Error("TranscribeEnabled should default to true")
	}
	if cfg.RealtimeAPIKey != "" {
		t.Errorf("RealtimeAPIKey = %q, want empty", cfg.RealtimeAPIKey)
	}
}

func TestLoadConfigRealtimeKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-main")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RealtimeAPIKey != "sk-main" {
		t.Errorf("RealtimeAPIKey = %q, want fallback to OPENAI_API_KEY", cfg.RealtimeAPIKey)
	}

	t.Setenv("OPENAI_REALTIME_API_KEY", "sk-rt")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RealtimeAPIKey != "sk-rt" {
		t.Errorf("RealtimeAPIKey = %q, want sk-rt", cfg.RealtimeAPIKey)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SESSION_TIMEOUT", "5")
	t.Setenv("RELAY_HANDSHAKE_TIMEOUT", "3")
	t.Setenv("ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("TRANSCRIBE_ENABLED", "false")
	t.Setenv("OPENAI_BASE_URL", "http://127.0.0.1:1234/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.TranscribeEnabled {
		t.Error("TranscribeEnabled should be false")
	}
	if got := cfg.RealtimeSocketURL(); got != "ws://127.0.0.1:1234/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01" {
		t.Errorf("RealtimeSocketURL() = %q", got)
	}
}

func TestLoadConfigInvalidNumber(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"MAX_SESSIONS", "many"},
		{"RELAY_MAX_PENDING_BYTES", "5MB"},
		{"TRANSCRIBE_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestRealtimeSocketURLSecure(t *testing.T) {
	cfg := Default()
	want := "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	if got := cfg.RealtimeSocketURL(); got != want {
		t.Errorf("RealtimeSocketURL() = %q, want %q", got, want)
	}
}
