package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/talkloop/talkloop/internal/errors"
	"github.com/talkloop/talkloop/internal/resilience"
	"github.com/talkloop/talkloop/internal/trace"
)

// StreamClient is the HTTP transport variant. The utterance is uploaded
// whole once the user stops speaking; the reply arrives as an SSE token
// stream and the speech as a raw byte stream. All requests run behind a
// circuit breaker so a dead backend fails fast.
type StreamClient struct {
	base     string
	client   *http.Client
	breaker  *resilience.Breaker
	eventsCh chan Event

	mu        sync.Mutex
	pending   []byte // accumulated utterance audio
	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewStreamClient creates an HTTP streaming transport against base.
func NewStreamClient(base string) *StreamClient {
	// No client-wide timeout: it would bound the whole body read and
	// cut long SSE or speech streams mid-turn. Only the wait for
	// response headers is bounded.
	rt := http.DefaultTransport.(*http.Transport).Clone()
	rt.ResponseHeaderTimeout = httpResponseHeaderTimeout
	return &StreamClient{
		base:     strings.TrimRight(base, "/"),
		client:   &http.Client{Transport: rt},
		breaker:  resilience.NewBreaker(resilience.FastConfig()),
		eventsCh: make(chan Event, eventBuffer),
		closedCh: make(chan struct{}),
	}
}

// Open prepares the client; there is no persistent connection to dial.
func (s *StreamClient) Open(ctx context.Context) error {
	trace.Logger(ctx).Info("http transport ready", "base", s.base)
	return nil
}

// SendAudio accumulates the in-progress utterance; the HTTP variant
// uploads it whole at end of turn.
func (s *StreamClient) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	s.pending = append(s.pending, chunk...)
	s.mu.Unlock()
	return nil
}

// EndUtterance uploads the utterance and streams the reply: transcript,
// then assistant tokens, then speech chunks, emitted as the same event
// sequence the duplex channel produces.
func (s *StreamClient) EndUtterance(ctx context.Context, info UtteranceInfo) error {
	s.mu.Lock()
	data := s.pending
	s.pending = nil
	s.mu.Unlock()

	go s.runTurn(ctx, data, info)
	return nil
}

// runTurn drives one request cycle. Failures surface as EventError so the
// session retries the listening phase; they never kill the session.
func (s *StreamClient) runTurn(ctx context.Context, data []byte, info UtteranceInfo) {
	ctx, span := trace.StartSpan(ctx, "http_turn")
	defer span.End()
	span.SetAttr("turn", info.Turn)
	span.SetAttr("audio_bytes", len(data))

	text, err := s.sendUtterance(ctx, data, info)
	if err != nil {
		s.emit(ctx, Event{Type: EventError, Err: err})
		return
	}
	s.emit(ctx, Event{Type: EventTranscript, Text: text})

	reply, err := s.streamReply(ctx, text, info.SessionID, func(token string) {
		s.emit(ctx, Event{Type: EventAssistantText, Text: token, Partial: true})
	})
	if err != nil {
		s.emit(ctx, Event{Type: EventError, Err: err})
		return
	}
	s.emit(ctx, Event{Type: EventAssistantText, Text: reply, Partial: false})

	if err := s.streamSpeech(ctx, reply, func(chunk []byte) {
		s.emit(ctx, Event{Type: EventAudio, Audio: chunk})
	}); err != nil {
		s.emit(ctx, Event{Type: EventError, Err: err})
		return
	}
	s.emit(ctx, Event{Type: EventAudioEnd})
}

// sendUtterance uploads one utterance as multipart form data and returns
// the recognized text.
func (s *StreamClient) sendUtterance(ctx context.Context, data []byte, info UtteranceInfo) (string, error) {
	return resilience.ExecuteWithResult(s.breaker, func() (string, error) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		fw, err := w.CreateFormFile("file", "utterance.opus")
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeInternal, "build multipart body")
		}
		if _, err := fw.Write(data); err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeInternal, "write multipart body")
		}
		_ = w.WriteField("session_id", info.SessionID)
		_ = w.WriteField("turn", strconv.Itoa(info.Turn))
		if err := w.Close(); err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeInternal, "finalize multipart body")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+utterancePath, &body)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeInternal, "build upload request")
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := s.client.Do(req)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeTransport, "utterance upload failed")
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return "", apperrors.Newf(apperrors.CodeTransport, "utterance upload returned %d", resp.StatusCode)
		}

		var out struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeProtocol, "bad upload response")
		}
		return out.Text, nil
	})
}

// streamReply posts the user text and reads the SSE token stream,
// returning the full accumulated reply.
func (s *StreamClient) streamReply(ctx context.Context, text, sessionID string, onToken func(string)) (string, error) {
	return resilience.ExecuteWithResult(s.breaker, func() (string, error) {
		payload, _ := json.Marshal(map[string]string{"text": text, "session_id": sessionID})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+chatPath, bytes.NewReader(payload))
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeInternal, "build chat request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := s.client.Do(req)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeTransport, "chat request failed")
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return "", apperrors.Newf(apperrors.CodeTransport, "chat returned %d", resp.StatusCode)
		}

		var reply strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			token, ok := strings.CutPrefix(line, "data: ")
			if !ok || token == "" {
				continue
			}
			reply.WriteString(token)
			onToken(token)
		}
		if err := scanner.Err(); err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeTransport, "chat stream interrupted")
		}
		return reply.String(), nil
	})
}

// streamSpeech posts the reply text and reads the raw audio byte stream
// in fixed-size chunks.
func (s *StreamClient) streamSpeech(ctx context.Context, text string, onChunk func([]byte)) error {
	return s.breaker.Execute(func() error {
		payload, _ := json.Marshal(map[string]string{"text": text})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+speechPath, bytes.NewReader(payload))
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "build speech request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeTransport, "speech request failed")
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return apperrors.Newf(apperrors.CodeTransport, "speech returned %d", resp.StatusCode)
		}

		buf := make([]byte, speechReadSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				onChunk(append([]byte(nil), buf[:n]...))
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeTransport, "speech stream interrupted")
			}
		}
	})
}

// AckFinishedSpeaking is a no-op on the request/response variant.
func (s *StreamClient) AckFinishedSpeaking(context.Context) error { return nil }

// Events returns the backend event stream.
func (s *StreamClient) Events() <-chan Event { return s.eventsCh }

// Close stops event delivery and unblocks any in-flight turn goroutine.
// Idempotent. The event channel stays open; closed turns stop emitting.
func (s *StreamClient) Close() error {
	s.closeOnce.Do(func() {
		close(s.closedCh)
	})
	return nil
}

// emit delivers an event in arrival order, applying backpressure when
// the consumer lags rather than dropping. Delivery ends when the client
// is closed or the turn's context is canceled.
func (s *StreamClient) emit(ctx context.Context, evt Event) {
	select {
	case s.eventsCh <- evt:
	case <-s.closedCh:
	case <-ctx.Done():
	}
}
