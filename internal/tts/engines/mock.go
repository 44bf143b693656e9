package engines

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

// MockEngine produces silence whose length follows the text. It backs
// `tts.engine: mock` for dry runs and the worker tests.
type MockEngine struct {
	format audio.Format
	delay  time.Duration

	mu    sync.Mutex
	err   error
	calls int
}

// MockConfig configures a MockEngine.
type MockConfig struct {
	SampleRate int           // defaults to 22050
	Delay      time.Duration // simulated processing time
}

// NewMockEngine creates a mock engine.
func NewMockEngine(config MockConfig) *MockEngine {
	f := audio.DefaultFormat
	if config.SampleRate > 0 {
		f.SampleRate = config.SampleRate
	}
	return &MockEngine{format: f, delay: config.Delay}
}

// SetFailure makes every following call fail with err. nil restores
// success.
func (e *MockEngine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many times Synthesize ran.
func (e *MockEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Synthesize returns roughly 300ms of silence per word, scaled by speed.
func (e *MockEngine) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()

	if e.delay > 0 {
		t := time.NewTimer(e.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	if speed <= 0 {
		return nil, tts.ErrInvalidSpeed
	}

	words := max(len(strings.Fields(text)), 1)
	d := time.Duration(float64(words) * float64(300*time.Millisecond) / speed)
	return audio.Silence(d, e.format), nil
}

// Info returns engine capabilities and configuration.
func (e *MockEngine) Info() tts.EngineInfo {
	return tts.EngineInfo{
		Name:        "mock",
		Voice:       "silence",
		SampleRate:  e.format.SampleRate,
		Channels:    e.format.Channels,
		BitDepth:    e.format.BitDepth,
		MaxTextSize: tts.MaxTextRunes,
	}
}

// Validate always succeeds.
func (e *MockEngine) Validate() error { return nil }

// Close is a no-op.
func (e *MockEngine) Close() error { return nil }

var _ tts.Engine = (*MockEngine)(nil)
