// Package worker runs the background audio processing loop: it reclaims
// artifacts of deleted messages and synthesizes the oldest pending message
// of the active lane, one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultPollInterval is the idle wait between empty iterations.
	DefaultPollInterval = time.Second

	// DefaultBackoffFactor multiplies the poll interval after an
	// unexpected error.
	DefaultBackoffFactor = 5

	// joinFactor multiplies the poll interval to bound Stop.
	joinFactor = 5
)

var (
	// ErrRunning is returned by Start when the loop is already running.
	ErrRunning = errors.New("worker: already running")

	// ErrStopTimeout is returned by Stop when the loop did not exit in time,
	// usually because a synthesis call is still in flight.
	ErrStopTimeout = errors.New("worker: timed out waiting for loop to exit")
)

// Queue is the part of the queue manager the worker drives.
type Queue interface {
	NextToProcess(ctx context.Context) (*message.Message, error)
	UpdateStatus(ctx context.Context, id int64, status message.Status, opts ...store.UpdateOption) (*message.Message, error)
	EnforceBudget(ctx context.Context) (int, error)
}

// Artifacts finds and forgets audio files of deleted messages.
type Artifacts interface {
	DeletedWithArtifacts(ctx context.Context) ([]message.Message, error)
	ClearArtifact(ctx context.Context, id int64) error
}

// Synthesizer writes the audio for one message and returns its path and
// size.
type Synthesizer interface {
	Synthesize(ctx context.Context, id int64, text, outputDir string) (string, int64, error)
}

// Config configures a Worker.
type Config struct {
	OutputDir     string
	PollInterval  time.Duration
	BackoffFactor int
	Logger        *log.Logger
}

// Worker is the AudioProcessingWorker.
type Worker struct {
	queue     Queue
	artifacts Artifacts
	synth     Synthesizer

	outputDir string
	poll      time.Duration
	backoff   time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped worker.
func New(q Queue, a Artifacts, s Synthesizer, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithPrefix("worker")
	}

	return &Worker{
		queue:     q,
		artifacts: a,
		synth:     s,
		outputDir: cfg.OutputDir,
		poll:      cfg.PollInterval,
		backoff:   time.Duration(cfg.BackoffFactor) * cfg.PollInterval,
		logger:    cfg.Logger,
	}
}

// Start launches the loop. It runs until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		// A loop that outlived Stop still owns the worker until it exits.
		select {
		case <-w.done:
		default:
			return ErrRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done

	go func() {
		defer close(done)
		w.loop(ctx)
	}()
	w.logger.Info("Worker started", "poll", w.poll, "output", w.outputDir)
	return nil
}

// Stop cancels the loop and waits up to five poll intervals for it to
// exit. A synthesis in flight is not interrupted; if it outlasts the wait
// Stop returns ErrStopTimeout and the loop exits once the call returns.
// Until then Start keeps returning ErrRunning and Stop may be called again.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	t := time.NewTimer(joinFactor * w.poll)
	defer t.Stop()
	select {
	case <-done:
		w.mu.Lock()
		if w.done == done {
			w.done = nil
		}
		w.mu.Unlock()
		w.logger.Info("Worker stopped")
		return nil
	case <-t.C:
		w.logger.Warn("Worker did not stop in time", "waited", joinFactor*w.poll)
		return ErrStopTimeout
	}
}

// Done is closed when a started loop exits. It is nil once Stop has seen
// the loop exit.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) loop(ctx context.Context) {
	for {
		processed, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			metrics.RecordWorkerError()
			w.logger.Error("Worker iteration failed", "err", err, "backoff", w.backoff)
			wait = w.backoff
		case !processed:
			wait = w.poll
		default:
			continue
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// RunOnce runs a single iteration: reclaim, then process at most one
// message. It reports whether a message was taken.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if _, err := w.Reclaim(ctx); err != nil {
		return false, err
	}

	next, err := w.queue.NextToProcess(ctx)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}
	return w.process(ctx, next)
}

func (w *Worker) process(ctx context.Context, m *message.Message) (bool, error) {
	logger := w.logger.With("id", m.ID, "lane", m.Lane)

	_, err := w.queue.UpdateStatus(ctx, m.ID, message.StatusProcessing, store.WithProcessedAt(time.Now()))
	switch {
	case errors.Is(err, message.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		// Cleared or evicted between lookup and claim.
		logger.Debug("Message gone before processing", "err", err)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("claim message %d: %w", m.ID, err)
	}

	// Stopping the worker does not abandon a claimed message.
	path, size, synthErr := w.synth.Synthesize(context.WithoutCancel(ctx), m.ID, m.Text, w.outputDir)
	outcome := context.WithoutCancel(ctx)

	if synthErr != nil || path == "" || size <= 0 {
		if synthErr == nil {
			synthErr = errors.New("synthesizer returned no artifact")
		}
		logger.Error("Synthesis failed", "err", synthErr)
		if _, err := w.queue.UpdateStatus(outcome, m.ID, message.StatusError); err != nil {
			logger.Error("Failed to mark message as error", "err", err)
		}
		if path != "" {
			w.removeArtifact(path)
		}
		return true, nil
	}

	if _, err := w.queue.UpdateStatus(outcome, m.ID, message.StatusReady, store.WithArtifact(path, size)); err != nil {
		// The message left PROCESSING without us (cleared); nothing will
		// reference the file.
		logger.Error("Failed to mark message as ready", "err", err)
		w.removeArtifact(path)
		return true, nil
	}
	logger.Info("Message ready", "size", humanize.IBytes(uint64(size)))

	if m.Lane == message.LaneMentions {
		if _, err := w.queue.EnforceBudget(outcome); err != nil {
			logger.Error("Overflow eviction failed", "err", err)
			metrics.RecordError("eviction", "worker")
		}
	}
	return true, nil
}

// Reclaim removes audio files of DELETED messages and nulls their
// references. A file that cannot be removed is logged and its reference
// nulled anyway, so one bad file cannot wedge the loop. It returns the
// number of references cleared.
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	deleted, err := w.artifacts.DeletedWithArtifacts(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim: %w", err)
	}

	var (
		cleared int
		errs    []error
	)
	for _, m := range deleted {
		result := "removed"
		if err := os.Remove(m.AudioPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result = "missing"
			} else {
				result = "failed"
				w.logger.Warn("Failed to remove audio file, dropping reference", "id", m.ID, "path", m.AudioPath, "err", err)
			}
		}
		metrics.RecordReclaim(result)

		if err := w.artifacts.ClearArtifact(ctx, m.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		cleared++
		w.logger.Debug("Artifact reclaimed", "id", m.ID, "result", result)
	}
	if cleared > 0 {
		w.logger.Info("Reclaimed audio of deleted messages", "count", cleared)
	}
	if len(errs) > 0 {
		return cleared, fmt.Errorf("reclaim: %w", errors.Join(errs...))
	}
	return cleared, nil
}

func (w *Worker) removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Failed to remove orphaned audio file", "path", path, "err", err)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
