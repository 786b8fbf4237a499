package vad

import "time"

// Default detection parameters
const (
	DefaultSpeechThreshold = 10.0
	DefaultSilenceHoldOff  = 1500 * time.Millisecond
	DefaultTickInterval    = 33 * time.Millisecond
	DefaultMeterSmoothing  = 0.1
)
