// Package transport carries one conversation session to the backend. Two
// variants exist behind one interface: a full-duplex websocket channel and
// an HTTP streaming client (upload + SSE reply + speech stream).
package transport

import (
	"context"
	"net/url"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

// EventType enumerates backend-to-client events.
type EventType int

const (
	// EventTranscript carries the final recognized user utterance.
	EventTranscript EventType = iota
	// EventAssistantText carries a streamed or final assistant reply fragment.
	EventAssistantText
	// EventAudio carries one encoded synthetic-speech chunk.
	EventAudio
	// EventAudioEnd signals all speech chunks for the turn have been sent.
	EventAudioEnd
	// EventError reports a recoverable per-request failure.
	EventError
	// EventClosed reports the channel is gone; the session ends.
	EventClosed
)

// Event is one backend message, normalized across transport variants.
type Event struct {
	Type    EventType
	Text    string
	Partial bool
	Audio   []byte
	Err     error
}

// UtteranceInfo identifies the utterance being completed.
type UtteranceInfo struct {
	SessionID string
	Turn      int
}

// Transport is the pluggable backend collaborator owned by the session.
type Transport interface {
	// Open establishes the channel. For the HTTP variant this only
	// prepares the client; requests are per-utterance.
	Open(ctx context.Context) error
	// SendAudio transmits one encoded chunk of the in-progress utterance.
	SendAudio(ctx context.Context, chunk []byte) error
	// EndUtterance signals the utterance is complete and triggers the
	// backend's reply stream.
	EndUtterance(ctx context.Context, info UtteranceInfo) error
	// AckFinishedSpeaking is the optional end-of-playback acknowledgment.
	AckFinishedSpeaking(ctx context.Context) error
	// Events returns the normalized backend event stream. The channel is
	// closed after a terminal EventClosed has been delivered.
	Events() <-chan Event
	// Close tears the channel down.
	Close() error
}

// FromURL selects the transport variant by URL scheme: ws/wss for the
// duplex channel, http/https for the streaming client.
func FromURL(rawURL string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeChannel, "invalid backend URL")
	}
	switch u.Scheme {
	case "ws", "wss":
		return NewChannel(rawURL), nil
	case "http", "https":
		return NewStreamClient(rawURL), nil
	default:
		return nil, apperrors.Newf(apperrors.CodeChannel, "unsupported backend scheme %q", u.Scheme)
	}
}
