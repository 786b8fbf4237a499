package playback

import "time"

// Playback configuration constants
const (
	DefaultSampleRate = 24000

	// queueDepth bounds the in-flight append queue; Append blocks past
	// this rather than reordering or dropping.
	queueDepth = 256

	// drainPoll is the cadence for checking whether the speaker has
	// consumed its buffer after the stream is finalized.
	drainPoll = 10 * time.Millisecond
)
