// Package playback renders streamed assistant audio. Chunks arrive from
// the network at irregular sizes and intervals and must play back as one
// continuous stream.
package playback

import (
	"context"

	apperrors "github.com/talkloop/talkloop/internal/errors"
	"github.com/talkloop/talkloop/internal/trace"
)

// Sink is a streaming audio sink for one assistant turn. Append may block
// while the previous chunk is still being consumed; calls are strictly
// serialized by the Buffer.
type Sink interface {
	Append(chunk []byte) error
	// Finish marks the stream complete and blocks until playback ends.
	Finish(ctx context.Context) error
	// Halt silences playback immediately.
	Halt()
}

// ClipPlayer plays an entire turn as one contiguous clip. Used when
// streaming is unavailable or an append failed mid-turn.
type ClipPlayer interface {
	PlayClip(ctx context.Context, chunks [][]byte) error
}

// SinkFactory lazily creates the streaming sink on first chunk. A factory
// error switches the turn to buffer-then-play.
type SinkFactory func() (Sink, error)

// Buffer sequences one assistant turn of audio: chunks are handed to the
// sink strictly in arrival order, one at a time; finalization waits for
// the queue to drain; on any sink failure the turn falls back to playing
// the accumulated chunks as a single clip. Single use per turn.
type Buffer struct {
	factory SinkFactory
	clip    ClipPlayer

	appendCh chan []byte
	endCh    chan struct{}
	doneCh   chan struct{}
	cancel   context.CancelFunc
}

// NewBuffer creates a playback buffer and starts its worker. clip may be
// nil when no fallback path exists (tests).
func NewBuffer(ctx context.Context, factory SinkFactory, clip ClipPlayer) *Buffer {
	ctx, cancel := context.WithCancel(ctx)
	b := &Buffer{
		factory:  factory,
		clip:     clip,
		appendCh: make(chan []byte, queueDepth),
		endCh:    make(chan struct{}),
		doneCh:   make(chan struct{}),
		cancel:   cancel,
	}
	go b.run(ctx)
	return b
}

// Append enqueues one chunk in arrival order. Blocks only if the queue is
// saturated, preserving order under backpressure.
func (b *Buffer) Append(chunk []byte) {
	select {
	case b.appendCh <- chunk:
	case <-b.doneCh:
	}
}

// End signals that all chunks for this turn have been sent. Chunks still
// enqueued are appended before finalization.
func (b *Buffer) End() {
	select {
	case <-b.endCh:
	default:
		close(b.endCh)
	}
}

// Done is closed exactly once when the turn finishes, on natural end of
// playback or on playback error.
func (b *Buffer) Done() <-chan struct{} { return b.doneCh }

// Stop silences playback and abandons the turn.
func (b *Buffer) Stop() {
	b.cancel()
}

func (b *Buffer) run(ctx context.Context) {
	log := trace.Logger(ctx)
	defer close(b.doneCh)

	var (
		sink     Sink
		all      [][]byte // retained for the fallback path
		fellBack bool
	)

	handle := func(chunk []byte) {
		all = append(all, chunk)
		if fellBack {
			return
		}
		if sink == nil {
			s, err := b.factory()
			if err != nil {
				log.Warn("streaming sink unavailable, buffering whole turn", "error", err)
				fellBack = true
				return
			}
			sink = s
		}
		if err := sink.Append(chunk); err != nil {
			log.Warn("append failed, falling back to whole-clip playback",
				"error", apperrors.Wrap(err, apperrors.CodeDecode, "sink append"))
			sink.Halt()
			sink = nil
			fellBack = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			if sink != nil {
				sink.Halt()
			}
			return
		case chunk := <-b.appendCh:
			handle(chunk)
		case <-b.endCh:
			// The end signal can race ahead of chunks already queued;
			// drain them before finalizing or the tail is truncated.
			for {
				select {
				case chunk := <-b.appendCh:
					handle(chunk)
					continue
				default:
				}
				break
			}
			b.finish(ctx, sink, all, fellBack)
			return
		}
	}
}

// finish completes the turn: streaming sinks finalize and drain; the
// fallback plays everything accumulated as one clip.
func (b *Buffer) finish(ctx context.Context, sink Sink, all [][]byte, fellBack bool) {
	log := trace.Logger(ctx)

	switch {
	case sink != nil && !fellBack:
		if err := sink.Finish(ctx); err != nil {
			log.Warn("playback ended with error", "error", err)
		}
	case len(all) > 0 && b.clip != nil:
		if err := b.clip.PlayClip(ctx, all); err != nil {
			log.Warn("clip playback failed", "error", err)
		}
	default:
		log.Debug("turn ended with no audio")
	}
}
