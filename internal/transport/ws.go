package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/talkloop/talkloop/internal/errors"
	"github.com/talkloop/talkloop/internal/trace"
)

// Control message types on the duplex channel. Binary frames carry raw
// encoded audio with no envelope; order of arrival is playback order.
type controlMessage struct {
	Type string `json:"type"`
}

type transcriptMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type assistantTextMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Partial bool   `json:"partial"`
}

// Channel is the websocket transport variant.
type Channel struct {
	url      string
	conn     *websocket.Conn
	eventsCh chan Event

	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool
}

// NewChannel creates an unopened websocket transport.
func NewChannel(url string) *Channel {
	return &Channel{
		url:      url,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Open dials the backend and starts the read loop.
func (c *Channel) Open(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeChannel, "failed to connect to backend")
	}
	conn.SetReadLimit(maxMessageBytes)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	trace.Logger(ctx).Info("channel connected", "url", c.url)
	go c.readLoop(ctx)
	return nil
}

// readLoop normalizes incoming frames into events until the channel dies.
func (c *Channel) readLoop(ctx context.Context) {
	log := trace.Logger(ctx)
	defer close(c.eventsCh)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.mu.Unlock()
			if !wasClosed {
				c.eventsCh <- Event{Type: EventClosed, Err: apperrors.Wrap(err, apperrors.CodeChannel, "channel read failed")}
			}
			return
		}

		if typ == websocket.MessageBinary {
			c.eventsCh <- Event{Type: EventAudio, Audio: data}
			continue
		}

		var base controlMessage
		if err := json.Unmarshal(data, &base); err != nil {
			// malformed message: discard and continue
			log.Debug("discarding malformed message", "error", apperrors.Wrap(err, apperrors.CodeProtocol, "bad control frame"))
			continue
		}

		switch base.Type {
		case "transcript":
			var msg transcriptMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("discarding malformed transcript", "error", err)
				continue
			}
			c.eventsCh <- Event{Type: EventTranscript, Text: msg.Text}
		case "assistant_text":
			var msg assistantTextMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("discarding malformed assistant_text", "error", err)
				continue
			}
			c.eventsCh <- Event{Type: EventAssistantText, Text: msg.Text, Partial: msg.Partial}
		case "audio_end":
			c.eventsCh <- Event{Type: EventAudioEnd}
		default:
			log.Debug("discarding unknown message type", "type", base.Type)
		}
	}
}

// SendAudio writes one encoded chunk as a binary frame.
func (c *Channel) SendAudio(ctx context.Context, chunk []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return apperrors.Wrap(err, apperrors.CodeChannel, "failed to send audio chunk")
	}
	return nil
}

// EndUtterance signals end of the user's turn. The duplex protocol needs
// no session metadata; identity rides on the connection.
func (c *Channel) EndUtterance(ctx context.Context, _ UtteranceInfo) error {
	if err := wsjson.Write(ctx, c.conn, controlMessage{Type: "end"}); err != nil {
		return apperrors.Wrap(err, apperrors.CodeChannel, "failed to send end-of-turn")
	}
	return nil
}

// AckFinishedSpeaking sends the optional playback acknowledgment.
func (c *Channel) AckFinishedSpeaking(ctx context.Context) error {
	if err := wsjson.Write(ctx, c.conn, controlMessage{Type: "agent_finished_speaking"}); err != nil {
		return apperrors.Wrap(err, apperrors.CodeChannel, "failed to send ack")
	}
	return nil
}

// Events returns the backend event stream.
func (c *Channel) Events() <-chan Event { return c.eventsCh }

// Close tears the connection down. Idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "session stopped")
		}
	})
	return err
}
