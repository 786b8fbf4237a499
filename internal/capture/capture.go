// Package capture owns the microphone stream and the outbound encoder.
// A Pipe encodes mic frames into opus chunks at a fixed cadence, throttles
// chunk emission, and guarantees the closing chunk is flushed on stop.
package capture

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkloop/talkloop/internal/audio"
	apperrors "github.com/talkloop/talkloop/internal/errors"
	"github.com/talkloop/talkloop/internal/trace"
)

// Mic is the exclusive audio-input handle. Read blocks until one 20ms
// frame is available.
type Mic interface {
	Open(sampleRate, frameSamples int) error
	Read() ([]int16, error)
	Close() error
}

// FrameEncoder encodes one PCM frame into an opaque packet.
type FrameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Config holds capture parameters.
type Config struct {
	SampleRate    int
	ChunkInterval time.Duration // encoder chunk cadence
	SendThrottle  time.Duration // minimum interval between emitted chunks
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	// SendThrottle zero disables throttling
	return c
}

// Pipe captures one utterance. Single use: Start once, Stop once.
type Pipe struct {
	cfg Config
	mic Mic
	enc FrameEncoder

	outCh    chan []byte
	level    atomic.Uint64 // float64 bits, latest frame energy
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewPipe creates a capture pipe over the given device and encoder.
func NewPipe(cfg Config, mic Mic, enc FrameEncoder) *Pipe {
	return &Pipe{
		cfg:    cfg.withDefaults(),
		mic:    mic,
		enc:    enc,
		outCh:  make(chan []byte, chunkBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Chunks returns the channel of encoded chunks. Closed after the final
// chunk has been flushed.
func (p *Pipe) Chunks() <-chan []byte { return p.outCh }

// Level returns the latest frame energy on the 0-255 scale, for the VAD.
func (p *Pipe) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// Start acquires the device and begins encoding. Device failures are
// returned as DeviceError (or DevicePermission when access was denied)
// for the caller's retry policy.
func (p *Pipe) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return apperrors.New(apperrors.CodeInternal, "capture pipe already started")
	}
	p.started = true
	p.mu.Unlock()

	frameSamples := audio.FrameSamples(p.cfg.SampleRate)
	if err := p.mic.Open(p.cfg.SampleRate, frameSamples); err != nil {
		close(p.doneCh)
		close(p.outCh)
		return classifyDeviceError(err)
	}

	log := trace.Logger(ctx)
	log.Info("capture started", "sample_rate", p.cfg.SampleRate, "chunk_interval", p.cfg.ChunkInterval)

	go p.run(ctx)
	return nil
}

// run reads frames until stopped, batching encoded packets into chunks.
func (p *Pipe) run(ctx context.Context) {
	log := trace.Logger(ctx)
	defer close(p.doneCh)
	defer close(p.outCh)
	defer func() { _ = p.mic.Close() }()

	var pending []byte
	lastEmit := time.Time{}
	chunkStart := time.Now()

	for {
		select {
		case <-p.stopCh:
			// Drain the encoder before the device stops: emit the
			// closing chunk regardless of throttle state.
			p.emit(pending, true, &lastEmit)
			return
		case <-ctx.Done():
			p.emit(pending, true, &lastEmit)
			return
		default:
		}

		frame, err := p.mic.Read()
		if err != nil {
			log.Debug("mic read error", "error", err)
			p.emit(pending, true, &lastEmit)
			return
		}

		p.level.Store(math.Float64bits(audio.Level(frame)))

		packet, err := p.enc.Encode(frame)
		if err != nil {
			log.Warn("encode error, dropping frame", "error", err)
			continue
		}
		pending = audio.AppendPacket(pending, packet)

		if time.Since(chunkStart) >= p.cfg.ChunkInterval {
			// a throttled cadence chunk is dropped, not queued
			p.emit(pending, false, &lastEmit)
			pending = nil
			chunkStart = time.Now()
		}
	}
}

// emit sends a chunk unless throttled. force bypasses the throttle for
// the closing chunk, which must reach the consumer even when the buffer
// is saturated, so the forced path blocks. Reports whether the chunk
// was sent.
func (p *Pipe) emit(chunk []byte, force bool, lastEmit *time.Time) bool {
	if len(chunk) == 0 {
		return false
	}
	if force {
		p.outCh <- chunk
		*lastEmit = time.Now()
		return true
	}
	if !lastEmit.IsZero() && time.Since(*lastEmit) < p.cfg.SendThrottle {
		return false
	}
	select {
	case p.outCh <- chunk:
		*lastEmit = time.Now()
		return true
	default:
		return false
	}
}

// Stop flushes the closing chunk, stops the encoder, and releases the
// device. Safe to call more than once; blocks until release completes.
func (p *Pipe) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if !started {
			close(p.doneCh)
			close(p.outCh)
			return
		}
		close(p.stopCh)
	})
	<-p.doneCh
}
