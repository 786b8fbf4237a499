package session

// Session configuration constants
const (
	statusBuffer          = 16
	transcriptEventBuffer = 16

	// deviceRetryAttempts bounds mic reacquisition within one listening
	// phase; each attempt waits the policy's retry delay. Stop aborts
	// the wait immediately.
	deviceRetryAttempts = 30
)
