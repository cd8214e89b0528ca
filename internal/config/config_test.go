package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("WS_STREAM_URL", "")
	os.Setenv("MAX_RECONNECT_ATTEMPTS", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.StreamURL == "" {
		t.Fatalf("expected default stream url")
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("expected default reconnect attempts 5, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.PostPlaybackDelay != 2000*time.Millisecond {
		t.Fatalf("expected default post-playback delay 2s, got %v", cfg.PostPlaybackDelay)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("RECORDING_CEILING_MS", "not-a-number")
	os.Setenv("MAX_RECONNECT_ATTEMPTS", "-3")
	defer os.Unsetenv("RECORDING_CEILING_MS")
	defer os.Unsetenv("MAX_RECONNECT_ATTEMPTS")
	cfg := Load()
	if cfg.RecordingCeiling != 20*time.Second {
		t.Fatalf("expected fallback ceiling 20s, got %v", cfg.RecordingCeiling)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("expected fallback attempts 5, got %d", cfg.MaxReconnectAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	os.Setenv("CHUNK_INTERVAL_MS", "100")
	os.Setenv("ALLOW_MANUAL_START", "true")
	defer os.Unsetenv("CHUNK_INTERVAL_MS")
	defer os.Unsetenv("ALLOW_MANUAL_START")
	cfg := Load()
	if cfg.ChunkInterval != 100*time.Millisecond {
		t.Fatalf("expected chunk interval 100ms, got %v", cfg.ChunkInterval)
	}
	if !cfg.AllowManualStart {
		t.Fatalf("expected manual start enabled")
	}
}
