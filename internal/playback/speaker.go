package playback

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/talkloop/talkloop/internal/audio"
	apperrors "github.com/talkloop/talkloop/internal/errors"
)

// Speaker owns the process-wide audio output context and mints sinks for
// individual assistant turns. oto allows one context per process, so one
// Speaker is shared across the session's lifetime.
type Speaker struct {
	otoCtx     *oto.Context
	sampleRate int
}

// NewSpeaker initializes the audio output at the given sample rate
// (mono, 16-bit PCM) and blocks until the device is ready.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDevice, "failed to open audio output")
	}
	<-ready
	return &Speaker{otoCtx: otoCtx, sampleRate: sampleRate}, nil
}

// NewSink creates a streaming sink for one turn. Matches the SinkFactory
// signature.
func (s *Speaker) NewSink() (Sink, error) {
	dec, err := audio.NewDecoder(s.sampleRate)
	if err != nil {
		return nil, err
	}
	stream := newPCMStream()
	return &streamSink{
		dec:    dec,
		stream: stream,
		player: s.otoCtx.NewPlayer(stream),
	}, nil
}

// PlayClip decodes and plays a whole turn as one contiguous clip.
func (s *Speaker) PlayClip(ctx context.Context, chunks [][]byte) error {
	dec, err := audio.NewDecoder(s.sampleRate)
	if err != nil {
		return err
	}

	var pcm []byte
	for _, chunk := range chunks {
		decoded, err := decodeChunk(dec, chunk)
		if err != nil {
			return err
		}
		pcm = append(pcm, decoded...)
	}
	if len(pcm) == 0 {
		return nil
	}

	player := s.otoCtx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	defer func() { _ = player.Close() }()
	return waitDrained(ctx, player)
}

// streamSink feeds decoded PCM into the speaker as chunks arrive.
type streamSink struct {
	dec     *audio.Decoder
	stream  *pcmStream
	player  *oto.Player
	started bool
}

func (ss *streamSink) Append(chunk []byte) error {
	pcm, err := decodeChunk(ss.dec, chunk)
	if err != nil {
		return err
	}
	ss.stream.Write(pcm)
	if !ss.started {
		ss.started = true
		ss.player.Play()
	}
	return nil
}

func (ss *streamSink) Finish(ctx context.Context) error {
	ss.stream.CloseWrite()
	if !ss.started {
		// nothing was ever appended
		_ = ss.player.Close()
		return nil
	}
	err := waitDrained(ctx, ss.player)
	_ = ss.player.Close()
	return err
}

func (ss *streamSink) Halt() {
	ss.stream.CloseWrite()
	_ = ss.player.Close()
}

// decodeChunk splits a chunk into opus packets and decodes them to PCM bytes.
func decodeChunk(dec *audio.Decoder, chunk []byte) ([]byte, error) {
	packets, err := audio.SplitPackets(chunk)
	if err != nil {
		return nil, err
	}
	var pcm []byte
	for _, p := range packets {
		samples, err := dec.Decode(p)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, audio.PCMToBytes(samples)...)
	}
	return pcm, nil
}

// waitDrained polls until the player has consumed its buffer or ctx ends.
func waitDrained(ctx context.Context, player *oto.Player) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "playback interrupted")
		case <-ticker.C:
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}

// pcmStream is a growable byte stream: writes append, reads block until
// data is available or the write side is closed (then io.EOF).
type pcmStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPCMStream() *pcmStream {
	s := &pcmStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pcmStream) Write(p []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// CloseWrite marks the stream complete; pending bytes still drain.
func (s *pcmStream) CloseWrite() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Read implements io.Reader for the oto player.
func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
