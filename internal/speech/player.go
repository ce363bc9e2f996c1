package speech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Output is the shared single-voice audio device. Starting a new buffer
// always stops whatever was playing so two announcements can never overlap.
// The returned channel closes exactly once, when playback ends naturally or
// is stopped.
type Output interface {
	PlayBuffer(buf *Buffer, gain float64, fadeIn time.Duration) (<-chan struct{}, error)
	StopAll()
}

// OtoOutput plays [Buffer] PCM on the system audio device via oto.
type OtoOutput struct {
	ctx *oto.Context

	mu     sync.Mutex
	active *oto.Player
}

// Compile-time interface check.
var _ Output = (*OtoOutput)(nil)

// NewOtoOutput initialises the system audio context. Returns an error when
// no audio device is available.
func NewOtoOutput() (*OtoOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("speech: audio device: %w", err)
	}
	<-ready
	return &OtoOutput{ctx: ctx}, nil
}

// PlayBuffer stops any current playback, then plays buf with a linear gain
// ramp from near-zero to gain over fadeIn (zero means the target gain from
// the first sample). The returned channel closes when playback finishes.
func (o *OtoOutput) PlayBuffer(buf *Buffer, gain float64, fadeIn time.Duration) (<-chan struct{}, error) {
	if buf == nil || len(buf.PCM) == 0 {
		return nil, errors.New("speech: empty buffer")
	}

	shaped := shapePCM(buf.PCM, gain, fadeIn)

	// Single-voice output: silence the previous source first.
	o.StopAll()

	player := o.ctx.NewPlayer(bytes.NewReader(shaped))

	o.mu.Lock()
	o.active = player
	o.mu.Unlock()

	player.Play()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		o.mu.Lock()
		if o.active == player {
			o.active = nil
		}
		o.mu.Unlock()
		player.Close()
	}()
	return done, nil
}

// StopAll hard-stops the current playback, if any. The corresponding
// completion channel still closes. Safe to call when idle.
func (o *OtoOutput) StopAll() {
	o.mu.Lock()
	active := o.active
	o.active = nil
	o.mu.Unlock()

	if active != nil {
		active.Pause()
	}
}

// shapePCM applies the gain and fade-in envelope to a copy of the 16-bit
// little-endian samples. A unit gain with no fade returns pcm unchanged.
func shapePCM(pcm []byte, gain float64, fadeIn time.Duration) []byte {
	if gain < 0 {
		gain = 0
	}
	if gain == 1 && fadeIn <= 0 {
		return pcm
	}

	fadeSamples := int(fadeIn.Seconds() * SampleRate * ChannelCount)
	out := make([]byte, len(pcm))

	n := len(pcm) / bytesPerSample
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		g := gain
		if i < fadeSamples {
			g = gain * float64(i) / float64(fadeSamples)
		}
		v := float64(s) * g
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	// Carry over a trailing odd byte untouched.
	if len(pcm)%2 != 0 {
		out[len(pcm)-1] = pcm[len(pcm)-1]
	}
	return out
}
