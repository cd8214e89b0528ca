package config

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Config holds application configuration for both the trainer client
// and the reference server.
type Config struct {
	HTTPAddress string
	APIBaseURL  string
	StreamURL   string

	// Turn cycle timings.
	PostPlaybackDelay time.Duration
	ChunkInterval     time.Duration
	RecordingCeiling  time.Duration

	// Duplex channel behavior.
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// AllowManualStart permits starting a recording from the feedback
	// screen without waiting for the post-playback delay.
	AllowManualStart bool

	SampleRate int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", "error", err)
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8000"
	}
	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8000"
	}
	streamURL := os.Getenv("WS_STREAM_URL")
	if streamURL == "" {
		streamURL = "ws://localhost:8000/ws/stream"
	}

	cfg := Config{
		HTTPAddress:          addr,
		APIBaseURL:           apiBase,
		StreamURL:            streamURL,
		PostPlaybackDelay:    envDuration("POST_PLAYBACK_DELAY_MS", 2000*time.Millisecond),
		ChunkInterval:        envDuration("CHUNK_INTERVAL_MS", 250*time.Millisecond),
		RecordingCeiling:     envDuration("RECORDING_CEILING_MS", 20*time.Second),
		HeartbeatInterval:    envDuration("HEARTBEAT_INTERVAL_MS", 30*time.Second),
		ReconnectDelay:       envDuration("RECONNECT_DELAY_MS", 2000*time.Millisecond),
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", 5),
		AllowManualStart:     os.Getenv("ALLOW_MANUAL_START") == "true",
		SampleRate:           envInt("SAMPLE_RATE", 16000),
	}

	log.Info("config loaded", "http", cfg.HTTPAddress, "stream", cfg.StreamURL)
	return cfg
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Warn("ignoring invalid duration", "key", key, "value", v)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn("ignoring invalid integer", "key", key, "value", v)
		return def
	}
	return n
}
