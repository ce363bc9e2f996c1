// Package speech is the hall client's speech pipeline: it turns announcement
// text into playable audio through an in-memory cache backed by the hallcall
// server's speech endpoint, caches chime cues by URL, and plays buffers on
// the local audio device with gain and fade-in control.
//
// The upstream speech provider is never called from this package — the
// provider credential stays server-side.
package speech

import (
	"encoding/binary"
	"errors"
)

// Audio format of every buffer this package handles. The server is asked for
// raw 16-bit little-endian PCM at this rate so no codec is needed locally.
const (
	SampleRate     = 44100
	ChannelCount   = 1
	bytesPerSample = 2
)

// Buffer is decoded audio ready for playback: 16-bit signed little-endian
// PCM at [SampleRate] Hz, [ChannelCount] channel(s).
type Buffer struct {
	PCM []byte
}

// frames returns the number of sample frames in the buffer.
func (b *Buffer) frames() int {
	return len(b.PCM) / (bytesPerSample * ChannelCount)
}

// decodeAudio converts raw response bytes into a [Buffer]. WAV containers
// are unwrapped to their data chunk; anything else is assumed to already be
// raw PCM in the package format.
func decodeAudio(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}
	if isWAV(data) {
		pcm, err := extractPCM(data)
		if err != nil {
			return nil, err
		}
		return &Buffer{PCM: pcm}, nil
	}
	return &Buffer{PCM: data}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// extractPCM strips the RIFF container and returns the raw data chunk.
func extractPCM(wav []byte) ([]byte, error) {
	if len(wav) < 44 {
		return nil, errors.New("wav data too short")
	}

	// Walk chunks to find "data".
	pos := 12
	for pos < len(wav)-8 {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))

		if chunkID == "data" {
			start := pos + 8
			end := start + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[start:end], nil
		}

		pos += 8 + chunkSize
		// Chunks are word-aligned.
		if chunkSize%2 != 0 {
			pos++
		}
	}

	return nil, errors.New("data chunk not found in WAV")
}
