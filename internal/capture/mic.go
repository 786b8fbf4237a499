package capture

import (
	"strings"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

// PortAudioMic is the default microphone backed by the system's default
// input device.
type PortAudioMic struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewPortAudioMic creates an unopened portaudio mic.
func NewPortAudioMic() *PortAudioMic {
	return &PortAudioMic{}
}

// Open initializes portaudio and acquires the default input stream.
func (m *PortAudioMic) Open(sampleRate, frameSamples int) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}

	m.buf = make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSamples, m.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return err
	}

	m.stream = stream
	return nil
}

// Read blocks until one frame has been captured.
func (m *PortAudioMic) Read() ([]int16, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	return append([]int16(nil), m.buf...), nil
}

// Close releases the stream and terminates portaudio.
func (m *PortAudioMic) Close() error {
	if m.stream == nil {
		return nil
	}
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	_ = portaudio.Terminate()
	return err
}

// classifyDeviceError maps a device acquisition failure onto the error
// taxonomy: explicit access denial is terminal, everything else retryable.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"denied", "permission", "unauthorized", "not allowed"} {
		if strings.Contains(msg, kw) {
			return apperrors.Wrap(err, apperrors.CodeDevicePermission, "microphone access denied")
		}
	}
	return apperrors.Wrap(err, apperrors.CodeDevice, "failed to acquire microphone")
}
