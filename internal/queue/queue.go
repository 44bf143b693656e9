package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// DefaultMentionsMaxBytes is the READY audio budget of the mentions lane.
const DefaultMentionsMaxBytes int64 = 200 * 1024 * 1024

// ErrEmptyText is returned when a message has no speakable text.
var ErrEmptyText = errors.New("queue: message text is empty")

// Store is the persistence surface the manager needs.
type Store interface {
	Create(ctx context.Context, m message.New) (*message.Message, error)
	Get(ctx context.Context, id int64) (*message.Message, error)
	Oldest(ctx context.Context, lane message.Lane, status message.Status) (*message.Message, error)
	List(ctx context.Context, f store.Filter) ([]message.Message, error)
	Snapshot(ctx context.Context, lane, sizedLane message.Lane) (store.Snapshot, error)
	EvictOverflow(ctx context.Context, lane message.Lane, budget int64) (store.Eviction, error)
	UpdateStatus(ctx context.Context, id int64, status message.Status, opts ...store.UpdateOption) (*message.Message, error)
	DeleteLane(ctx context.Context, lane message.Lane, statuses ...message.Status) (int, error)
}

// Options configures a Manager.
type Options struct {
	// MentionsMaxBytes overrides DefaultMentionsMaxBytes when positive.
	MentionsMaxBytes int64
	// Logger defaults to the global logger with a "queue" prefix.
	Logger *log.Logger
}

// Stats is a snapshot of the active lane.
type Stats struct {
	ActiveLane      message.Lane `json:"active_queue_type"`
	PendingCount    int          `json:"pending_count"`
	ReadyCount      int          `json:"ready_count"`
	ProcessingCount int          `json:"processing_count"`
	ErrorCount      int          `json:"error_count"`
	// MentionsReadyBytes is always the mentions lane total, whichever lane
	// is active, since only mentions is under a byte budget.
	MentionsReadyBytes int64 `json:"mentions_total_audio_size_bytes"`
}

// Manager owns the active lane and every queue-level operation. It keeps no
// messages in memory; the store is polled afresh on each call. Manager is
// safe for concurrent use.
type Manager struct {
	store  Store
	budget int64
	logger *log.Logger

	mu     sync.RWMutex
	active message.Lane
}

// New returns a Manager over s with mentions active.
func New(s Store, opts Options) *Manager {
	budget := opts.MentionsMaxBytes
	if budget <= 0 {
		budget = DefaultMentionsMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithPrefix("queue")
	}

	m := &Manager{
		store:  s,
		budget: budget,
		logger: logger,
		active: message.LaneMentions,
	}
	logger.Info("Queue manager ready",
		"active", m.active,
		"mentions_budget", humanize.IBytes(uint64(budget)))
	return m
}

// MentionsMaxBytes returns the configured mentions budget.
func (m *Manager) MentionsMaxBytes() int64 { return m.budget }

// ActiveLane returns the lane currently selected for processing and playback.
func (m *Manager) ActiveLane() message.Lane {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SwitchLane makes lane active. It returns false when lane is invalid or
// already active. No message changes state.
func (m *Manager) SwitchLane(lane string) bool {
	l, err := message.ParseLane(lane)
	if err != nil {
		m.logger.Warn("Invalid lane for switch", "lane", lane)
		return false
	}

	m.mu.Lock()
	if l == m.active {
		m.mu.Unlock()
		m.logger.Info("Lane already active", "lane", l)
		return false
	}
	m.active = l
	m.mu.Unlock()

	metrics.SetActiveLane(string(l), laneNames())
	m.logger.Info("Active lane switched", "lane", l)
	return true
}

// Enqueue validates and stores a new PENDING message. Enqueuing to mentions
// also enforces the byte budget. A failed eviction is logged but does not
// fail the enqueue, since the message itself was committed.
func (m *Manager) Enqueue(ctx context.Context, n message.New) (*message.Message, error) {
	lane, err := message.ParseLane(n.Lane)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.Text) == "" {
		return nil, ErrEmptyText
	}
	n.Lane = string(lane)

	created, err := m.store.Create(ctx, n)
	if err != nil {
		m.logger.Error("Failed to enqueue message", "lane", lane, "sender", n.Sender, "err", err)
		metrics.RecordError("store", "queue")
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	metrics.RecordEnqueue(string(lane))
	m.logger.Info("Message enqueued",
		"id", created.ID,
		"lane", lane,
		"sender", created.Sender,
		"text", preview(created.Text))

	if lane == message.LaneMentions {
		if _, err := m.EnforceBudget(ctx); err != nil {
			m.logger.Error("Overflow eviction failed", "after_id", created.ID, "err", err)
			metrics.RecordError("eviction", "queue")
		}
	}
	return created, nil
}

// EnforceBudget soft-deletes the oldest READY mentions messages until the
// READY total is back under budget, and returns how many it deleted.
// Messages with no recorded size are skipped. PENDING and PROCESSING
// messages are never evicted, so the budget can remain exceeded when too
// few sized READY messages exist. Concurrent calls are serialized by the
// store and never evict more than one excess.
func (m *Manager) EnforceBudget(ctx context.Context) (int, error) {
	lane := message.LaneMentions

	ev, err := m.store.EvictOverflow(ctx, lane, m.budget)
	if err != nil {
		return 0, fmt.Errorf("enforce budget: %w", err)
	}
	metrics.SetReadyBytes(string(lane), ev.Remaining())
	if ev.Total <= m.budget {
		return 0, nil
	}

	excess := ev.Total - m.budget
	m.logger.Warn("Mentions lane over budget",
		"total", humanize.IBytes(uint64(ev.Total)),
		"budget", humanize.IBytes(uint64(m.budget)),
		"excess", humanize.IBytes(uint64(excess)))
	if ev.Freed < excess {
		m.logger.Warn("Not enough sized READY messages to meet budget",
			"freed", humanize.IBytes(uint64(ev.Freed)),
			"excess", humanize.IBytes(uint64(excess)))
	}
	if len(ev.IDs) == 0 {
		return 0, nil
	}

	metrics.RecordEviction(string(lane), len(ev.IDs), ev.Freed)
	m.logger.Info("Messages evicted for overflow", "count", len(ev.IDs), "freed", humanize.IBytes(uint64(ev.Freed)))
	return len(ev.IDs), nil
}

// NextToProcess returns the oldest PENDING message in the active lane, or
// nil when there is none. It does not change the message.
func (m *Manager) NextToProcess(ctx context.Context) (*message.Message, error) {
	return m.oldest(ctx, message.StatusPending)
}

// NextToPlay returns the oldest READY message in the active lane, or nil
// when there is none. It does not change the message.
func (m *Manager) NextToPlay(ctx context.Context) (*message.Message, error) {
	return m.oldest(ctx, message.StatusReady)
}

func (m *Manager) oldest(ctx context.Context, status message.Status) (*message.Message, error) {
	lane := m.ActiveLane()
	next, err := m.store.Oldest(ctx, lane, status)
	if err != nil {
		m.logger.Error("Failed to read queue", "lane", lane, "status", status, "err", err)
		metrics.RecordError("store", "queue")
		return nil, fmt.Errorf("next %s in %s: %w", status, lane, err)
	}
	if next != nil {
		m.logger.Debug("Next message", "status", status, "lane", lane, "id", next.ID)
	}
	return next, nil
}

// ClearActiveLane soft-deletes every PENDING and READY message in the
// active lane and returns the count. Messages in any other status are left
// alone.
func (m *Manager) ClearActiveLane(ctx context.Context) (int, error) {
	lane := m.ActiveLane()
	n, err := m.store.DeleteLane(ctx, lane, message.StatusPending, message.StatusReady)
	if err != nil {
		m.logger.Error("Failed to clear lane", "lane", lane, "err", err)
		metrics.RecordError("store", "queue")
		return 0, fmt.Errorf("clear %s: %w", lane, err)
	}
	metrics.RecordClear(string(lane), n)
	m.logger.Info("Lane cleared", "lane", lane, "count", n)
	return n, nil
}

// Stats returns counts for the active lane and the mentions READY byte
// total, read together so they describe the same moment.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	lane := m.ActiveLane()
	snap, err := m.store.Snapshot(ctx, lane, message.LaneMentions)
	if err != nil {
		m.logger.Error("Failed to read stats", "lane", lane, "err", err)
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	metrics.SetReadyBytes(string(message.LaneMentions), snap.ReadyBytes)

	return Stats{
		ActiveLane:         lane,
		PendingCount:       snap.Counts[message.StatusPending],
		ReadyCount:         snap.Counts[message.StatusReady],
		ProcessingCount:    snap.Counts[message.StatusProcessing],
		ErrorCount:         snap.Counts[message.StatusError],
		MentionsReadyBytes: snap.ReadyBytes,
	}, nil
}

// UpdateStatus moves one message along the state machine.
func (m *Manager) UpdateStatus(ctx context.Context, id int64, status message.Status, opts ...store.UpdateOption) (*message.Message, error) {
	updated, err := m.store.UpdateStatus(ctx, id, status, opts...)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Message status changed", "id", id, "status", status)
	return updated, nil
}

// Get returns one message by ID.
func (m *Manager) Get(ctx context.Context, id int64) (*message.Message, error) {
	return m.store.Get(ctx, id)
}

// List returns messages matching f.
func (m *Manager) List(ctx context.Context, f store.Filter) ([]message.Message, error) {
	return m.store.List(ctx, f)
}

func laneNames() []string {
	names := make([]string, len(message.Lanes))
	for i, l := range message.Lanes {
		names[i] = string(l)
	}
	return names
}

// preview shortens text for log lines.
func preview(s string) string {
	return runewidth.Truncate(strings.Join(strings.Fields(s), " "), 48, "…")
}
