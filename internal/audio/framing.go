package audio

import (
	"encoding/binary"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

// Encoded chunks carry a run of opus packets, each prefixed with a uint16
// big-endian length. Chunks stay opaque on the wire; only the codec ends
// need to segment them.

// AppendPacket appends one length-prefixed packet to a chunk buffer.
func AppendPacket(chunk, packet []byte) []byte {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
	chunk = append(chunk, hdr[:]...)
	return append(chunk, packet...)
}

// SplitPackets segments a chunk back into its opus packets.
func SplitPackets(chunk []byte) ([][]byte, error) {
	var packets [][]byte
	for len(chunk) > 0 {
		if len(chunk) < 2 {
			return nil, apperrors.New(apperrors.CodeDecode, "truncated packet header")
		}
		n := int(binary.BigEndian.Uint16(chunk))
		chunk = chunk[2:]
		if n > len(chunk) {
			return nil, apperrors.Newf(apperrors.CodeDecode, "packet length %d exceeds remaining %d bytes", n, len(chunk))
		}
		packets = append(packets, chunk[:n])
		chunk = chunk[n:]
	}
	return packets, nil
}

// PCMToBytes converts int16 samples to little-endian bytes.
func PCMToBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM converts little-endian bytes to int16 samples. Trailing odd
// bytes are dropped.
func BytesToPCM(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}

// Level returns the average absolute magnitude of a PCM frame scaled to
// 0-255, matching the scale the speech threshold is expressed in.
func Level(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(pcm)) / 32768.0 * 255.0
}
