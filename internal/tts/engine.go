package tts

import (
	"context"

	"github.com/dgnsrekt/streamtts/internal/audio"
)

// Engine turns text into raw PCM. Implementations live in the engines
// package: piper (offline), gtts (online) and mock.
type Engine interface {
	// Synthesize returns 16-bit little-endian PCM in the layout reported by
	// Info. The engine enforces its own subprocess timeouts but must also
	// honor ctx.
	Synthesize(ctx context.Context, text string, speed float64) ([]byte, error)

	// Info returns engine capabilities and configuration.
	Info() EngineInfo

	// Validate checks that binaries and models are present.
	Validate() error

	// Close releases any resources held by the engine.
	Close() error
}

// EngineInfo describes engine capabilities and configuration.
type EngineInfo struct {
	Name        string // engine name, e.g. "piper"
	Voice       string // voice or language in use, part of the cache key
	SampleRate  int    // Hz
	Channels    int    // 1 = mono
	BitDepth    int    // bits per sample
	MaxTextSize int    // runes
	IsOnline    bool   // requires network access
}

// Format returns the PCM layout the engine emits.
func (i EngineInfo) Format() audio.Format {
	return audio.Format{SampleRate: i.SampleRate, Channels: i.Channels, BitDepth: i.BitDepth}
}
