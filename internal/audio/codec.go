// Package audio provides the opus codec wrappers and chunk framing shared
// by the capture and playback paths.
package audio

import (
	"gopkg.in/hraban/opus.v2"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

const (
	// FrameDurationMs is the opus frame length used on both paths.
	FrameDurationMs = 20

	// voice-tuned bitrate
	encoderBitrate = 64000

	// 60ms at 48kHz, the largest frame opus can produce
	maxFrameSamples = 2880
)

// FrameSamples returns samples per 20ms frame at the given rate.
func FrameSamples(sampleRate int) int {
	return sampleRate * FrameDurationMs / 1000
}

// Encoder encodes mono PCM to opus packets.
type Encoder struct {
	enc        *opus.Encoder
	sampleRate int
}

// NewEncoder creates a voice-tuned mono opus encoder.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create opus encoder")
	}
	if err := enc.SetBitrate(encoderBitrate); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "set opus bitrate")
	}
	return &Encoder{enc: enc, sampleRate: sampleRate}, nil
}

// Encode encodes one 20ms PCM frame into a single opus packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, 1024)
	n, err := e.enc.Encode(pcm, buf)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "opus encode")
	}
	return buf[:n], nil
}

// SampleRate returns the encoder's sample rate.
func (e *Encoder) SampleRate() int { return e.sampleRate }

// Decoder decodes opus packets to mono PCM.
type Decoder struct {
	dec        *opus.Decoder
	sampleRate int
}

// NewDecoder creates a mono opus decoder.
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create opus decoder")
	}
	return &Decoder{dec: dec, sampleRate: sampleRate}, nil
}

// Decode decodes one opus packet into PCM samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, maxFrameSamples)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDecode, "opus decode")
	}
	return pcm[:n], nil
}

// SampleRate returns the decoder's sample rate.
func (d *Decoder) SampleRate() int { return d.sampleRate }
