package transport

import "time"

// Transport configuration constants
const (
	eventBuffer     = 64
	maxMessageBytes = 1 << 20 // 1MiB per frame

	// HTTP streaming variant endpoints, relative to the base address.
	utterancePath = "/utterance"
	chatPath      = "/chat"
	speechPath    = "/speech"

	// speechReadSize is how much of the raw speech byte stream becomes
	// one playback chunk.
	speechReadSize = 4096

	// httpResponseHeaderTimeout bounds the wait for response headers
	// only; stream bodies (SSE tokens, speech bytes) have no deadline.
	httpResponseHeaderTimeout = 30 * time.Second
)
