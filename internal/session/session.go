// Package session drives one voice conversation: it owns the backend
// transport, sequences idle → listening → transcribing → speaking, and
// wires capture, end-of-utterance detection, playback, and the transcript
// together. All mutable state is owned by a single event-loop goroutine.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talkloop/talkloop/internal/capture"
	apperrors "github.com/talkloop/talkloop/internal/errors"
	"github.com/talkloop/talkloop/internal/resilience"
	"github.com/talkloop/talkloop/internal/syncx"
	"github.com/talkloop/talkloop/internal/trace"
	"github.com/talkloop/talkloop/internal/transcript"
	"github.com/talkloop/talkloop/internal/transport"
	"github.com/talkloop/talkloop/internal/vad"
)

// TurnPlayer renders one assistant turn of streamed audio. Done fires
// exactly once, on natural end of playback or on playback error.
type TurnPlayer interface {
	Append(chunk []byte)
	End()
	Done() <-chan struct{}
	Stop()
}

// Deps are the session's collaborators. Transport, NewMic, NewEncoder and
// NewPlayer are required; Meter may be nil.
type Deps struct {
	Transport  transport.Transport
	NewMic     func() capture.Mic
	NewEncoder func() (capture.FrameEncoder, error)
	NewPlayer  func(ctx context.Context) TurnPlayer
	Meter      vad.MeterSink
}

// Session is one conversation. Single use: Start once, Stop once.
type Session struct {
	policy Policy
	deps   Deps
	id     string

	status   *syncx.RWGuard[Status]
	statusCh chan Status
	merger   *transcript.Merger
	lastErr  *syncx.RWGuard[error]

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a session with a fresh identity token.
func New(policy Policy, deps Deps) *Session {
	return &Session{
		policy:   policy.withDefaults(),
		deps:     deps,
		id:       uuid.NewString(),
		status:   syncx.NewGuard(StatusIdle),
		statusCh: make(chan Status, statusBuffer),
		merger:   transcript.NewMerger(transcriptEventBuffer),
		lastErr:  syncx.NewGuard[error](nil),
		doneCh:   make(chan struct{}),
	}
}

// ID returns the session token, stable for the conversation's lifetime.
func (s *Session) ID() string { return s.id }

// Status returns the current conversation phase.
func (s *Session) Status() Status { return s.status.Get() }

// StatusEvents returns the phase-change feed for UI consumers.
func (s *Session) StatusEvents() <-chan Status { return s.statusCh }

// Transcript returns the turn list maintained by this session.
func (s *Session) Transcript() *transcript.Merger { return s.merger }

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Err returns the terminal error, if the session ended on one.
func (s *Session) Err() error { return s.lastErr.Get() }

// Start opens the backend channel and begins the conversation loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeInternal, "session already started")
	}
	s.started = true
	ctx, _ = trace.EnsureContext(ctx)
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.deps.Transport.Open(ctx); err != nil {
		s.cancel()
		close(s.doneCh)
		return err
	}

	trace.Logger(ctx).Info("session started", "session_id", s.id)
	go s.run(ctx)
	return nil
}

// Stop tears the session down from any state: capture halts, the device
// and the channel are released, and in-progress playback is silenced
// before Stop returns. Idempotent; it always wins over in-flight events.
func (s *Session) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.stopOnce.Do(s.cancel)
	<-s.doneCh
}

func (s *Session) run(ctx context.Context) {
	log := trace.Logger(ctx)
	defer close(s.doneCh)
	defer s.setStatus(StatusIdle)
	defer func() { _ = s.deps.Transport.Close() }()

	err := s.loop(ctx)
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		log.Info("session stopped", "session_id", s.id)
	default:
		s.lastErr.Set(err)
		log.Error("session ended", "session_id", s.id, "error", err)
	}
}

// loop is the conversation event loop. It is the only goroutine that
// touches phase state; collaborators report back over channels.
func (s *Session) loop(ctx context.Context) error {
	log := trace.Logger(ctx)

	var (
		lis        *listener
		player     TurnPlayer
		wake       <-chan time.Time // pending settle or retry delay
		wantListen = true
		turn       int
	)
	defer func() {
		if lis != nil {
			s.stopListening(lis)
		}
		if player != nil {
			player.Stop()
		}
	}()

	events := s.deps.Transport.Events()

	for {
		if wantListen && lis == nil && player == nil && wake == nil {
			l, err := s.beginListening(ctx)
			if err != nil {
				return err
			}
			lis = l
			s.setStatus(StatusListening)
		}

		// nil channels keep inactive sources out of the select
		var (
			fired      <-chan bool
			sendErr    <-chan error
			playerDone <-chan struct{}
		)
		if lis != nil {
			fired, sendErr = lis.firedCh, lis.errCh
		}
		if player != nil {
			playerDone = player.Done()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ended := <-fired:
			if !ended {
				continue // monitor canceled; ctx.Done handles teardown
			}
			s.stopListening(lis)
			lis = nil
			wantListen = false
			turn++
			info := transport.UtteranceInfo{SessionID: s.id, Turn: turn}
			if err := s.deps.Transport.EndUtterance(ctx, info); err != nil {
				return err
			}
			s.setStatus(StatusTranscribing)
			log.Debug("utterance ended", "turn", turn)

		case err := <-sendErr:
			s.stopListening(lis)
			lis = nil
			if apperrors.IsTerminal(err) {
				return err
			}
			log.Warn("utterance send failed, retrying listening", "error", err)
			wake = time.After(s.policy.RetryDelay)
			wantListen = true

		case <-wake:
			wake = nil

		case <-playerDone:
			player = nil
			if s.policy.AckFinishedSpeaking {
				if err := s.deps.Transport.AckFinishedSpeaking(ctx); err != nil {
					log.Warn("finished-speaking ack failed", "error", err)
				}
			}
			wake = time.After(s.policy.SettleDelay)
			wantListen = true

		case evt, ok := <-events:
			if !ok {
				return apperrors.New(apperrors.CodeChannel, "backend channel closed")
			}
			switch evt.Type {
			case transport.EventTranscript:
				s.merger.AddUser(evt.Text)

			case transport.EventAssistantText:
				s.merger.ApplyAssistant(evt.Text, evt.Partial)
				lis = s.enterSpeaking(lis)
				wantListen = false

			case transport.EventAudio:
				lis = s.enterSpeaking(lis)
				wantListen = false
				if player == nil {
					player = s.deps.NewPlayer(ctx)
				}
				player.Append(evt.Audio)

			case transport.EventAudioEnd:
				if player != nil {
					player.End()
				} else {
					// a turn with no audio still settles before re-listening
					wake = time.After(s.policy.SettleDelay)
					wantListen = true
				}

			case transport.EventError:
				log.Warn("turn failed, retrying listening", "error", evt.Err)
				if player != nil {
					player.Stop()
					player = nil
				}
				wake = time.After(s.policy.RetryDelay)
				wantListen = true

			case transport.EventClosed:
				if evt.Err != nil {
					return evt.Err
				}
				return apperrors.New(apperrors.CodeChannel, "backend channel closed")
			}
		}
	}
}

// enterSpeaking transitions to the speaking phase on the first streamed
// assistant content. A greeting can arrive while still listening; the
// in-progress capture is abandoned without an end-of-turn signal.
func (s *Session) enterSpeaking(lis *listener) *listener {
	if lis != nil {
		s.stopListening(lis)
	}
	s.setStatus(StatusSpeaking)
	return nil
}

// listener bundles one listening phase: the capture pipe, the detection
// monitor, and the goroutine forwarding chunks to the backend.
type listener struct {
	pipe    *capture.Pipe
	cancel  context.CancelFunc
	firedCh chan bool
	errCh   chan error
	fwdDone chan struct{}
}

// beginListening acquires the device (with fixed-delay retries; denial is
// returned immediately) and starts the capture, forward, and detection
// goroutines.
func (s *Session) beginListening(ctx context.Context) (*listener, error) {
	var pipe *capture.Pipe
	cfg := resilience.FixedRetryConfig(s.policy.RetryDelay, deviceRetryAttempts)
	err := resilience.Retry(ctx, cfg, func() error {
		enc, err := s.deps.NewEncoder()
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "create frame encoder")
		}
		p := capture.NewPipe(capture.Config{
			SampleRate:    s.policy.CaptureSampleRate,
			ChunkInterval: s.policy.ChunkInterval,
			SendThrottle:  s.policy.SendThrottle,
		}, s.deps.NewMic(), enc)
		if err := p.Start(ctx); err != nil {
			return err
		}
		pipe = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		pipe:    pipe,
		cancel:  cancel,
		firedCh: make(chan bool, 1),
		errCh:   make(chan error, 1),
		fwdDone: make(chan struct{}),
	}

	mon := vad.NewMonitor(vad.Config{
		SpeechThreshold: s.policy.SpeechThreshold,
		SilenceHoldOff:  s.policy.SilenceHoldOff,
		TickInterval:    s.policy.TickInterval,
		MeterSmoothing:  s.policy.MeterSmoothing,
	}, pipe.Level, s.deps.Meter)
	go func() {
		l.firedCh <- mon.Run(lctx)
	}()

	go func() {
		defer close(l.fwdDone)
		for chunk := range pipe.Chunks() {
			if err := s.deps.Transport.SendAudio(ctx, chunk); err != nil {
				select {
				case l.errCh <- err:
				default:
				}
				// keep draining so the pipe can flush its closing
				// chunk and release the device
				for range pipe.Chunks() {
				}
				return
			}
		}
	}()

	return l, nil
}

// stopListening releases the listening phase synchronously: the monitor
// stops, the pipe flushes its closing chunk and frees the device, and the
// forwarder drains before return so the closing chunk precedes any
// end-of-turn signal.
func (s *Session) stopListening(l *listener) {
	l.cancel()
	l.pipe.Stop()
	<-l.fwdDone
}

func (s *Session) setStatus(v Status) {
	if s.status.Swap(v) == v {
		return
	}
	select {
	case s.statusCh <- v:
	default:
	}
}
