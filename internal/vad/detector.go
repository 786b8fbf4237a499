// Package vad decides when a user utterance has ended by watching the
// microphone energy level.
package vad

import (
	"context"
	"time"

	"github.com/talkloop/talkloop/internal/trace"
)

// Config holds detection parameters.
type Config struct {
	SpeechThreshold float64       // energy level (0-255 scale) that counts as speech
	SilenceHoldOff  time.Duration // silence required after speech before firing
	TickInterval    time.Duration // sampling cadence
	MeterSmoothing  float64       // per-tick easing factor for the intensity meter
}

func (c Config) withDefaults() Config {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceHoldOff <= 0 {
		c.SilenceHoldOff = DefaultSilenceHoldOff
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MeterSmoothing <= 0 {
		c.MeterSmoothing = DefaultMeterSmoothing
	}
	return c
}

// Detector implements the energy hold-off policy: once speech has been
// observed, a hold-off of uninterrupted sub-threshold samples ends the
// utterance. It never fires on silence alone, and fires at most once
// until Reset.
type Detector struct {
	cfg       Config
	hasSpoken bool
	lastAbove time.Time
	fired     bool
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe feeds one energy sample. Returns true exactly once, when the
// utterance has ended.
func (d *Detector) Observe(level float64, now time.Time) bool {
	if d.fired {
		return false
	}

	if level >= d.cfg.SpeechThreshold {
		d.hasSpoken = true
		d.lastAbove = now
		return false
	}

	if d.hasSpoken && now.Sub(d.lastAbove) > d.cfg.SilenceHoldOff {
		d.fired = true
		return true
	}
	return false
}

// Fired reports whether the utterance has already ended.
func (d *Detector) Fired() bool { return d.fired }

// Reset rearms the detector for the next listening phase.
func (d *Detector) Reset() {
	d.hasSpoken = false
	d.lastAbove = time.Time{}
	d.fired = false
}

// MeterSink receives a bounded intensity value per tick. Implementations
// render visual feedback; the easing exists only to keep that output
// from jittering.
type MeterSink interface {
	SetIntensity(v float64)
}

// LevelSource samples the current microphone energy on the 0-255 scale.
type LevelSource func() float64

// Monitor runs the detection loop: it samples the level source at tick
// cadence, eases the meter, and returns when the utterance ends or the
// context is canceled.
type Monitor struct {
	cfg    Config
	det    *Detector
	source LevelSource
	meter  MeterSink
	eased  float64
}

// NewMonitor creates a monitor. meter may be nil.
func NewMonitor(cfg Config, source LevelSource, meter MeterSink) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{cfg: cfg, det: NewDetector(cfg), source: source, meter: meter}
}

// Run blocks until the utterance ends (returns true) or ctx is canceled
// (returns false). The meter is zeroed on exit.
func (m *Monitor) Run(ctx context.Context) bool {
	log := trace.Logger(ctx)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	defer m.setIntensity(0)

	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			level := m.source()
			m.ease(level)
			if m.det.Observe(level, now) {
				log.Debug("utterance ended", "hold_off", m.cfg.SilenceHoldOff)
				return true
			}
		}
	}
}

// ease applies exponential decay toward the bounded target intensity.
func (m *Monitor) ease(level float64) {
	target := level / 255.0
	if target > 1 {
		target = 1
	}
	m.eased += (target - m.eased) * m.cfg.MeterSmoothing
	m.setIntensity(m.eased)
}

func (m *Monitor) setIntensity(v float64) {
	m.eased = v
	if m.meter != nil {
		m.meter.SetIntensity(v)
	}
}
