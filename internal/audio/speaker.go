package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ErrSpeakerClosed is returned by Play after Close.
var ErrSpeakerClosed = errors.New("audio: speaker closed")

// pollInterval is how often Play checks whether the device drained.
const pollInterval = 20 * time.Millisecond

// Speaker plays PCM on the default output device. Only one oto context may
// exist per process, so a Speaker is created once and reused; it plays one
// clip at a time.
type Speaker struct {
	ctx    *oto.Context
	format Format

	mu     sync.Mutex
	closed bool
}

// NewSpeaker opens the output device for format f and waits until it is
// ready.
func NewSpeaker(f Format) (*Speaker, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	return &Speaker{ctx: ctx, format: f}, nil
}

// Format returns the layout the device was opened with.
func (s *Speaker) Format() Format { return s.format }

// Play blocks until pcm finished playing or ctx is done. The slice is held
// by the player for the whole call.
func (s *Speaker) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return errors.New("audio: nothing to play")
	}
	if err := CheckPCM(pcm, s.format); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpeakerClosed
	}

	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

// PlayWAV decodes a WAV file and plays its samples. The file must match
// the speaker's format.
func (s *Speaker) PlayWAV(ctx context.Context, wav []byte) error {
	pcm, f, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	if f != s.format {
		return fmt.Errorf("%w: file is %d Hz/%d ch, device is %d Hz/%d ch",
			ErrInvalidFormat, f.SampleRate, f.Channels, s.format.SampleRate, s.format.Channels)
	}
	return s.Play(ctx, pcm)
}

// Close marks the speaker unusable. The oto context itself lives until the
// process exits.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
