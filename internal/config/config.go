// Package config handles capture service configuration
package config

import (
	"os"
	"strconv"
)

type Config struct {
	HTTPAddr string

	// Streaming path
	StreamSampleRate int // wire rate delivered to consumers
	FrameSize        int // samples per frame

	// Recording path
	RecordSampleRate int
	RecordBitrate    int // encoder target, bits/sec
	MaxRecordingMs   int // hard cutoff
	ChunkIntervalMs  int // periodic chunk flush
	MinClipBytes     int // silence heuristic floor

	// Upstream realtime service
	APIKey        string
	RealtimeModel string
	RealtimeURL   string
	MintURL       string

	// Environment
	SecureContext bool // deployment asserts TLS is terminated upstream
	AllowInsecure bool // local development override
}

func Load() *Config {
	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8000"),
		StreamSampleRate: getEnvInt("STREAM_SAMPLE_RATE", 24000),
		FrameSize:        getEnvInt("FRAME_SIZE", 2048),
		RecordSampleRate: getEnvInt("RECORD_SAMPLE_RATE", 48000),
		RecordBitrate:    getEnvInt("RECORD_BITRATE", 64000),
		MaxRecordingMs:   getEnvInt("MAX_RECORDING_MS", 60000),
		ChunkIntervalMs:  getEnvInt("CHUNK_INTERVAL_MS", 100),
		MinClipBytes:     getEnvInt("MIN_CLIP_BYTES", 1000),
		APIKey:           getEnv("OPENAI_API_KEY", ""),
		RealtimeModel:    getEnv("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeURL:      getEnv("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		MintURL:          getEnv("REALTIME_MINT_URL", "https://api.openai.com/v1/realtime/sessions"),
		SecureContext:    getEnvBool("SECURE_CONTEXT", true),
		AllowInsecure:    getEnvBool("ALLOW_INSECURE_CAPTURE", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
