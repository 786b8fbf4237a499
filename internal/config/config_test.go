package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.BackendURL != "ws://localhost:8000/ws" {
		t.Errorf("unexpected backend URL: %s", cfg.BackendURL)
	}
	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("unexpected capture sample rate: %d", cfg.CaptureSampleRate)
	}
	if cfg.SpeechThreshold != 10 {
		t.Errorf("unexpected speech threshold: %v", cfg.SpeechThreshold)
	}
	if cfg.SilenceHoldOff != 1500*time.Millisecond {
		t.Errorf("unexpected hold-off: %v", cfg.SilenceHoldOff)
	}
	if cfg.SendThrottle != 200*time.Millisecond {
		t.Errorf("unexpected throttle: %v", cfg.SendThrottle)
	}
	if cfg.SettleDelay != 400*time.Millisecond {
		t.Errorf("unexpected settle delay: %v", cfg.SettleDelay)
	}
	if cfg.AckFinishedSpeaking {
		t.Error("ack should default to off")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.com")
	t.Setenv("SILENCE_HOLD_OFF_MS", "4000")
	t.Setenv("SPEECH_THRESHOLD", "12.5")
	t.Setenv("ACK_FINISHED_SPEAKING", "true")

	cfg := Load()

	if cfg.BackendURL != "https://api.example.com" {
		t.Errorf("unexpected backend URL: %s", cfg.BackendURL)
	}
	if cfg.SilenceHoldOff != 4*time.Second {
		t.Errorf("unexpected hold-off: %v", cfg.SilenceHoldOff)
	}
	if cfg.SpeechThreshold != 12.5 {
		t.Errorf("unexpected threshold: %v", cfg.SpeechThreshold)
	}
	if !cfg.AckFinishedSpeaking {
		t.Error("ack override not applied")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("CAPTURE_SAMPLE_RATE", "not-a-number")
	t.Setenv("METER_SMOOTHING", "bogus")

	cfg := Load()

	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("invalid int should fall back, got %d", cfg.CaptureSampleRate)
	}
	if cfg.MeterSmoothing != 0.1 {
		t.Errorf("invalid float should fall back, got %v", cfg.MeterSmoothing)
	}
}
