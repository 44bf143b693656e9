package tts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultSpeed is the speaking rate used when none is configured.
	DefaultSpeed = 1.0

	// DefaultTimeout bounds a single synthesis call.
	DefaultTimeout = 30 * time.Second

	minSpeed = 0.25
	maxSpeed = 4.0
)

// Cache stores engine output keyed by cache.Key.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Options configures a Synthesizer.
type Options struct {
	Speed   float64
	Timeout time.Duration
	Cache   Cache // optional
	Logger  *log.Logger
}

// Synthesizer produces one WAV artifact per message using an Engine.
type Synthesizer struct {
	engine  Engine
	speed   float64
	timeout time.Duration
	cache   Cache
	logger  *log.Logger
}

// NewSynthesizer wraps engine. A zero speed or timeout takes the default.
func NewSynthesizer(engine Engine, opts Options) (*Synthesizer, error) {
	if engine == nil {
		return nil, ErrEngineNotFound
	}
	if opts.Speed == 0 {
		opts.Speed = DefaultSpeed
	}
	if opts.Speed < minSpeed || opts.Speed > maxSpeed {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidSpeed, opts.Speed)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.WithPrefix("tts")
	}

	return &Synthesizer{
		engine:  engine,
		speed:   opts.Speed,
		timeout: opts.Timeout,
		cache:   opts.Cache,
		logger:  opts.Logger,
	}, nil
}

// ArtifactName is the file name of the audio for message id.
func ArtifactName(id int64) string {
	return fmt.Sprintf("message_%d.wav", id)
}

// Info describes the underlying engine.
func (s *Synthesizer) Info() EngineInfo { return s.engine.Info() }

// Speed returns the configured speaking rate.
func (s *Synthesizer) Speed() float64 { return s.speed }

// Synthesize speaks text and writes message_<id>.wav into outputDir,
// returning its path and size. Every failure is a *SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, id int64, text, outputDir string) (string, int64, error) {
	start := time.Now()
	path, size, err := s.synthesize(ctx, id, text, outputDir)
	metrics.RecordSynthesis(err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("Synthesis failed", "id", id, "code", Code(err), "err", err)
		return "", 0, err
	}
	s.logger.Info("Synthesis complete",
		"id", id,
		"size", humanize.IBytes(uint64(size)),
		"took", time.Since(start).Round(time.Millisecond))
	return path, size, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, id int64, text, outputDir string) (string, int64, error) {
	clean, err := Normalize(text)
	if err != nil {
		return "", 0, NewSynthesisError(ErrorCodeInvalidInput, id, "normalize text", err)
	}

	info := s.engine.Info()
	key := cache.Key(clean, info.Name+"/"+info.Voice, s.speed)

	pcm, hit := s.lookup(key)
	if !hit {
		pcm, err = s.run(ctx, id, clean)
		if err != nil {
			return "", 0, err
		}
		if s.cache != nil {
			if err := s.cache.Put(key, pcm); err != nil {
				s.logger.Warn("Failed to cache audio", "id", id, "err", err)
			}
		}
	}

	path := filepath.Join(outputDir, ArtifactName(id))
	size, err := audio.WriteWAVFile(path, pcm, info.Format())
	if err != nil {
		return "", 0, NewSynthesisError(ErrorCodeOutput, id, "write artifact", err)
	}
	return path, size, nil
}

func (s *Synthesizer) lookup(key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	pcm, ok := s.cache.Get(key)
	metrics.RecordCacheLookup(ok)
	return pcm, ok && len(pcm) > 0
}

func (s *Synthesizer) run(ctx context.Context, id int64, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pcm, err := s.engine.Synthesize(ctx, text, s.speed)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewSynthesisError(ErrorCodeEngineTimeout, id,
				fmt.Sprintf("no audio after %s", s.timeout), errors.Join(ErrTimeout, err))
		}
		return nil, NewSynthesisError(ErrorCodeEngineFailure, id, s.engine.Info().Name, err)
	}
	if len(pcm) == 0 {
		return nil, NewSynthesisError(ErrorCodeEngineFailure, id, s.engine.Info().Name, ErrEmptyAudio)
	}
	return pcm, nil
}

// Close releases the engine.
func (s *Synthesizer) Close() error {
	return s.engine.Close()
}
