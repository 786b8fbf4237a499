package session

import (
	"time"

	"github.com/talkloop/talkloop/internal/config"
)

// Policy bundles the tunables that shape one conversation: detection
// thresholds, emission cadence, and the delays the phase transitions use.
type Policy struct {
	CaptureSampleRate int

	SpeechThreshold float64
	SilenceHoldOff  time.Duration
	TickInterval    time.Duration
	MeterSmoothing  float64

	ChunkInterval time.Duration
	SendThrottle  time.Duration

	// SettleDelay is the pause after playback before the next listening
	// phase, so the mic does not pick up trailing loudspeaker output.
	SettleDelay time.Duration
	// RetryDelay is the fixed backoff after a failed device acquisition
	// or a failed per-turn request.
	RetryDelay time.Duration

	// AckFinishedSpeaking sends the optional end-of-playback message.
	AckFinishedSpeaking bool
}

func (p Policy) withDefaults() Policy {
	if p.SettleDelay <= 0 {
		p.SettleDelay = 400 * time.Millisecond
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = time.Second
	}
	// the remaining zero values fall back to the capture/vad defaults
	return p
}

// PolicyFromConfig maps the loaded configuration onto a session policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		CaptureSampleRate:   cfg.CaptureSampleRate,
		SpeechThreshold:     cfg.SpeechThreshold,
		SilenceHoldOff:      cfg.SilenceHoldOff,
		TickInterval:        cfg.TickInterval,
		MeterSmoothing:      cfg.MeterSmoothing,
		ChunkInterval:       cfg.ChunkInterval,
		SendThrottle:        cfg.SendThrottle,
		SettleDelay:         cfg.SettleDelay,
		RetryDelay:          cfg.DeviceRetryDelay,
		AckFinishedSpeaking: cfg.AckFinishedSpeaking,
	}
}
