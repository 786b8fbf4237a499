package session

// Status is the current conversation phase. Exactly one value is current
// at any time; only the session mutates it.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusTranscribing
	StatusSpeaking
)

var statusNames = map[Status]string{
	StatusIdle:         "idle",
	StatusListening:    "listening",
	StatusTranscribing: "transcribing",
	StatusSpeaking:     "speaking",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}
