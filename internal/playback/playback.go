// Package playback hands READY messages to players. It moves them to
// PLAYING and PLAYED and owns the autoplay switch and loop.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/dgnsrekt/streamtts/internal/store"
)

const (
	// DefaultCooldown is the pause after autoplay starts a message.
	DefaultCooldown = 10 * time.Second

	// DefaultPollInterval is how often an idle autoplay loop looks again.
	DefaultPollInterval = time.Second

	// claimAttempts bounds retries when another player claims the same
	// message first.
	claimAttempts = 3
)

// Sources recorded with playback metrics.
const (
	SourceAPI      = "api"
	SourceAutoplay = "autoplay"
)

// Queue is the part of the queue manager playback needs.
type Queue interface {
	NextToPlay(ctx context.Context) (*message.Message, error)
	UpdateStatus(ctx context.Context, id int64, status message.Status, opts ...store.UpdateOption) (*message.Message, error)
}

// Config configures a Trigger.
type Config struct {
	Cooldown     time.Duration
	PollInterval time.Duration
	Logger       *log.Logger
}

// Trigger moves messages through READY → PLAYING → PLAYED. Autoplay
// starts disabled.
type Trigger struct {
	queue  Queue
	poll   time.Duration
	logger *log.Logger

	mu       sync.RWMutex
	autoplay bool
	cooldown time.Duration
	wake     chan struct{}
}

// New returns a Trigger over q.
func New(q Queue, cfg Config) *Trigger {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithPrefix("playback")
	}
	return &Trigger{
		queue:    q,
		poll:     cfg.PollInterval,
		logger:   cfg.Logger,
		cooldown: cfg.Cooldown,
		wake:     make(chan struct{}, 1),
	}
}

// AutoplayEnabled reports whether the autoplay loop is playing messages.
func (t *Trigger) AutoplayEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.autoplay
}

// SetAutoplay turns autoplay on or off and reports whether it changed.
// Turning it on wakes an idle loop.
func (t *Trigger) SetAutoplay(enabled bool) bool {
	t.mu.Lock()
	changed := t.autoplay != enabled
	t.autoplay = enabled
	t.mu.Unlock()

	if changed {
		t.logger.Info("Autoplay toggled", "enabled", enabled)
		if enabled {
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
	}
	return changed
}

// Cooldown returns the current autoplay cooldown.
func (t *Trigger) Cooldown() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cooldown
}

// SetCooldown changes the autoplay cooldown; it applies from the next wait.
func (t *Trigger) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.cooldown = d
	t.mu.Unlock()
	t.logger.Info("Autoplay cooldown changed", "cooldown", d)
}

// PlayNext marks the oldest READY message of the active lane as PLAYING
// and returns it, or nil when nothing is ready.
func (t *Trigger) PlayNext(ctx context.Context) (*message.Message, error) {
	return t.playNext(ctx, SourceAPI)
}

func (t *Trigger) playNext(ctx context.Context, source string) (*message.Message, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		next, err := t.queue.NextToPlay(ctx)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}

		playing, err := t.queue.UpdateStatus(ctx, next.ID, message.StatusPlaying, store.WithPlayedAt(time.Now()))
		if errors.Is(err, message.ErrInvalidTransition) {
			// Claimed, cleared or evicted since the lookup; try the next one.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("start playback of %d: %w", next.ID, err)
		}

		metrics.RecordPlayback(string(message.StatusPlaying), source)
		t.logger.Info("Message playing", "id", playing.ID, "lane", playing.Lane, "source", source)
		return playing, nil
	}
	return nil, nil
}

// MarkPlayed finishes playback of a PLAYING message. Unknown ids return
// store.ErrNotFound; other states message.ErrInvalidTransition.
func (t *Trigger) MarkPlayed(ctx context.Context, id int64) (*message.Message, error) {
	played, err := t.queue.UpdateStatus(ctx, id, message.StatusPlayed)
	if err != nil {
		return nil, err
	}
	metrics.RecordPlayback(string(message.StatusPlayed), SourceAPI)
	t.logger.Info("Message played", "id", id)
	return played, nil
}

// Run is the autoplay loop. While autoplay is on it starts the next READY
// message and waits the cooldown; otherwise it polls. It returns when ctx
// is done.
func (t *Trigger) Run(ctx context.Context) error {
	t.logger.Debug("Autoplay loop started", "poll", t.poll)
	for {
		wait, wake := t.poll, t.wake
		if t.AutoplayEnabled() {
			played, err := t.playNext(ctx, SourceAutoplay)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				t.logger.Error("Autoplay failed", "err", err)
				metrics.RecordError("autoplay", "playback")
				wait, wake = t.Cooldown(), nil
			case played != nil:
				wait, wake = t.Cooldown(), nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
