package capture

import "time"

// Capture configuration constants
const (
	DefaultSampleRate    = 16000
	DefaultChunkInterval = 400 * time.Millisecond
	DefaultSendThrottle  = 200 * time.Millisecond

	// Outbound chunk channel depth; full means the network writer is
	// far behind and chunks are dropped.
	chunkBuffer = 32
)
