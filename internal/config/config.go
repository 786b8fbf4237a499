// Package config handles client configuration
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BackendURL string // ws(s):// selects the duplex channel, http(s):// the streaming variant

	CaptureSampleRate  int
	PlaybackSampleRate int

	SpeechThreshold float64       // energy level (0-255 scale) that counts as speech
	SilenceHoldOff  time.Duration // silence required after speech before ending a turn
	TickInterval    time.Duration // VAD sampling / meter easing cadence
	MeterSmoothing  float64       // per-tick exponential-decay factor

	ChunkInterval    time.Duration // encoder chunk cadence
	SendThrottle     time.Duration // minimum interval between outbound chunks
	SettleDelay      time.Duration // pause after playback before re-listening
	DeviceRetryDelay time.Duration // backoff after a failed mic acquisition

	AckFinishedSpeaking bool // send the optional playback acknowledgment
}

func Load() *Config {
	return &Config{
		BackendURL:          getEnv("BACKEND_URL", "ws://localhost:8000/ws"),
		CaptureSampleRate:   getEnvInt("CAPTURE_SAMPLE_RATE", 16000),
		PlaybackSampleRate:  getEnvInt("PLAYBACK_SAMPLE_RATE", 24000),
		SpeechThreshold:     getEnvFloat("SPEECH_THRESHOLD", 10),
		SilenceHoldOff:      getEnvMillis("SILENCE_HOLD_OFF_MS", 1500),
		TickInterval:        getEnvMillis("TICK_INTERVAL_MS", 33),
		MeterSmoothing:      getEnvFloat("METER_SMOOTHING", 0.1),
		ChunkInterval:       getEnvMillis("CHUNK_INTERVAL_MS", 400),
		SendThrottle:        getEnvMillis("SEND_THROTTLE_MS", 200),
		SettleDelay:         getEnvMillis("SETTLE_DELAY_MS", 400),
		DeviceRetryDelay:    getEnvMillis("DEVICE_RETRY_DELAY_MS", 1000),
		AckFinishedSpeaking: getEnvBool("ACK_FINISHED_SPEAKING", false),
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvMillis(key string, defMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defMillis)) * time.Millisecond
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
