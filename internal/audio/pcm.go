package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes raw PCM sample layout.
type Format struct {
	SampleRate int // Hz
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // bits per sample
}

// DefaultFormat is what piper voices emit: 22.05 kHz, mono, 16-bit.
var DefaultFormat = Format{SampleRate: 22050, Channels: 1, BitDepth: 16}

var (
	// ErrInvalidFormat is returned for formats that cannot describe PCM data.
	ErrInvalidFormat = errors.New("audio: invalid pcm format")

	// ErrMisaligned is returned when data does not hold whole frames.
	ErrMisaligned = errors.New("audio: pcm data not frame aligned")
)

// Validate checks f for a usable layout. Only 16-bit samples are supported.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	case f.Channels != 1 && f.Channels != 2:
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	case f.BitDepth != 16:
		return fmt.Errorf("%w: %d-bit samples", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns the playing time of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// CheckPCM verifies that data holds whole frames of f.
func CheckPCM(data []byte, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if len(data)%f.FrameSize() != 0 {
		return fmt.Errorf("%w: %d bytes, frame size %d", ErrMisaligned, len(data), f.FrameSize())
	}
	return nil
}

// Silence returns d worth of zeroed samples, rounded down to whole frames.
func Silence(d time.Duration, f Format) []byte {
	if d <= 0 || f.FrameSize() == 0 {
		return nil
	}
	frames := int(d * time.Duration(f.SampleRate) / time.Second)
	return make([]byte, frames*f.FrameSize())
}
