package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

func collectTurn(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			got = append(got, evt)
			if evt.Type == EventAudioEnd || evt.Type == EventError || evt.Type == EventClosed {
				return got
			}
		case <-timeout:
			t.Fatalf("turn did not complete; events so far: %d", len(got))
		}
	}
}

func newBackend(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(utterancePath, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("session_id") == "" || r.FormValue("turn") == "" {
			http.Error(w, "missing fields", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "I feel anxious"})
	})
	mux.HandleFunc(chatPath, func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Text      string `json:"text"`
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"That sounds", " hard."} {
			fmt.Fprintf(w, "data: %s\n\n", token)
		}
	})
	mux.HandleFunc(speechPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, speechReadSize+100)) // two chunks
	})
	return httptest.NewServer(mux)
}

func TestStreamClientTurn(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()

	c := NewStreamClient(srv.URL)
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := c.SendAudio(ctx, []byte("chunk1")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := c.SendAudio(ctx, []byte("chunk2")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := c.EndUtterance(ctx, UtteranceInfo{SessionID: "s-1", Turn: 1}); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	got := collectTurn(t, c.Events())

	if got[0].Type != EventTranscript || got[0].Text != "I feel anxious" {
		t.Errorf("first event should be the transcript, got %+v", got[0])
	}

	var partials []string
	var finalText string
	audio := 0
	for _, evt := range got[1:] {
		switch evt.Type {
		case EventAssistantText:
			if evt.Partial {
				partials = append(partials, evt.Text)
			} else {
				finalText = evt.Text
			}
		case EventAudio:
			audio++
		}
	}
	if len(partials) != 2 {
		t.Errorf("expected 2 partial tokens, got %d", len(partials))
	}
	if finalText != "That sounds hard." {
		t.Errorf("final text = %q, want accumulated reply", finalText)
	}
	if audio != 2 {
		t.Errorf("expected 2 audio chunks, got %d", audio)
	}
	if got[len(got)-1].Type != EventAudioEnd {
		t.Errorf("turn should end with audio_end, got %v", got[len(got)-1].Type)
	}
}

func TestStreamClientUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL)
	ctx := context.Background()
	_ = c.SendAudio(ctx, []byte("data"))
	if err := c.EndUtterance(ctx, UtteranceInfo{SessionID: "s-1", Turn: 1}); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	got := collectTurn(t, c.Events())
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("expected error event, got %v", last.Type)
	}
	if !apperrors.IsCode(last.Err, apperrors.CodeTransport) {
		t.Errorf("expected transport error, got %v", last.Err)
	}
}

func TestStreamClientPendingResetsPerTurn(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()

	c := NewStreamClient(srv.URL)
	ctx := context.Background()
	_ = c.SendAudio(ctx, []byte("turn1"))
	_ = c.EndUtterance(ctx, UtteranceInfo{SessionID: "s-1", Turn: 1})
	collectTurn(t, c.Events())

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending audio should reset after end of turn, got %d bytes", pending)
	}
}

func TestStreamClientClosedEmitsNothing(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()

	c := NewStreamClient(srv.URL)
	_ = c.Close()
	_ = c.Close() // idempotent

	// emit must return immediately after close, even with no consumer
	c.emit(context.Background(), Event{Type: EventAudioEnd})
	select {
	case evt := <-c.Events():
		t.Errorf("closed client emitted %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamClientBurstAppliesBackpressure(t *testing.T) {
	const speechChunks = 100

	mux := http.NewServeMux()
	mux.HandleFunc(utterancePath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
	})
	mux.HandleFunc(chatPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: hi\n\n")
	})
	mux.HandleFunc(speechPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, speechChunks*speechReadSize))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewStreamClient(srv.URL)
	ctx := context.Background()
	_ = c.SendAudio(ctx, []byte("data"))
	if err := c.EndUtterance(ctx, UtteranceInfo{SessionID: "s-1", Turn: 1}); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	// A stalled consumer must not lose events: the burst outruns the
	// channel buffer, so the sender has to wait, not drop.
	time.Sleep(500 * time.Millisecond)

	var audioBytes int
	sawEnd := false
	timeout := time.After(5 * time.Second)
	for !sawEnd {
		select {
		case evt := <-c.Events():
			switch evt.Type {
			case EventAudio:
				audioBytes += len(evt.Audio)
			case EventAudioEnd:
				sawEnd = true
			case EventError:
				t.Fatalf("turn failed: %v", evt.Err)
			}
		case <-timeout:
			t.Fatalf("audio_end never arrived; received %d audio bytes so far", audioBytes)
		}
	}
	if want := speechChunks * speechReadSize; audioBytes != want {
		t.Errorf("received %d audio bytes, want %d", audioBytes, want)
	}
}

func TestStreamClientStreamBodiesHaveNoDeadline(t *testing.T) {
	c := NewStreamClient("http://backend")
	if c.client.Timeout != 0 {
		t.Error("client-wide timeout would cut long SSE and speech streams mid-turn")
	}
	rt, ok := c.client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected an *http.Transport")
	}
	if rt.ResponseHeaderTimeout != httpResponseHeaderTimeout {
		t.Errorf("header timeout = %v, want %v", rt.ResponseHeaderTimeout, httpResponseHeaderTimeout)
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
		wantWS  bool
	}{
		{"ws://localhost:8000/ws", false, true},
		{"wss://api.example.com/ws", false, true},
		{"http://localhost:8000", false, false},
		{"https://api.example.com", false, false},
		{"ftp://example.com", true, false},
		{"://bad", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			tr, err := FromURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, isWS := tr.(*Channel)
			if isWS != tt.wantWS {
				t.Errorf("variant mismatch for %s", tt.url)
			}
		})
	}
}
