package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "streamtts.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})
	return store
}

func mustCreate(t *testing.T, s *Store, lane, text string) *message.Message {
	t.Helper()

	m, err := s.Create(context.Background(), message.New{Lane: lane, Sender: "viewer", Text: text})
	if err != nil {
		t.Fatalf("create %q: %v", text, err)
	}
	return m
}

// mustReady drives a PENDING message to READY with the given artifact size.
func mustReady(t *testing.T, s *Store, id, size int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.UpdateStatus(ctx, id, message.StatusProcessing, WithProcessedAt(time.Now())); err != nil {
		t.Fatalf("mark processing %d: %v", id, err)
	}
	if _, err := s.UpdateStatus(ctx, id, message.StatusReady, WithArtifact(filepath.Join("audio", "x.wav"), size)); err != nil {
		t.Fatalf("mark ready %d: %v", id, err)
	}
}

func TestOpenReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "q.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustCreate(t, s, "bits", "hello")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	snap, err := s.Snapshot(context.Background(), message.LaneBits, message.LaneMentions)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if n := snap.Counts[message.StatusPending]; n != 1 {
		t.Fatalf("pending after reopen = %d, want 1", n)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.Close()

	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get on closed store error = %v, want ErrClosed", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping on closed store error = %v, want ErrClosed", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	amount := int64(500)

	m, err := s.Create(ctx, message.New{Lane: "mention", Sender: "alice", Text: "hi there", Amount: &amount})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("expected store-assigned ID")
	}
	if m.Lane != message.LaneMentions {
		t.Errorf("lane = %q, want mentions", m.Lane)
	}
	if m.Status != message.StatusPending {
		t.Errorf("status = %q, want PENDING", m.Status)
	}
	if m.Amount == nil || *m.Amount != 500 {
		t.Errorf("amount = %v, want 500", m.Amount)
	}
	if m.HasArtifact() || m.AudioSize != 0 {
		t.Errorf("new message should have no artifact: %+v", m)
	}
	if m.CreatedAt.IsZero() || m.ProcessedAt != nil || m.PlayedAt != nil || m.DeletedAt != nil {
		t.Errorf("unexpected timestamps: %+v", m)
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Text != "hi there" || got.Sender != "alice" {
		t.Errorf("Get returned %+v", got)
	}

	if _, err := s.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing error = %v, want ErrNotFound", err)
	}
}

func TestCreateInvalidLane(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), message.New{Lane: "subs", Sender: "a", Text: "b"})
	if !errors.Is(err, message.ErrInvalidLane) {
		t.Fatalf("Create error = %v, want ErrInvalidLane", err)
	}

	msgs, err := s.List(context.Background(), Filter{Limit: -1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("invalid lane wrote %d rows", len(msgs))
	}
}

func TestOldestIsFIFOPerLane(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, s, "mentions", "first")
	mustCreate(t, s, "bits", "other lane")
	mustCreate(t, s, "mentions", "second")

	got, err := s.Oldest(ctx, message.LaneMentions, message.StatusPending)
	if err != nil {
		t.Fatalf("Oldest failed: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("Oldest = %+v, want id %d", got, first.ID)
	}

	got, err = s.Oldest(ctx, message.LaneMentions, message.StatusReady)
	if err != nil {
		t.Fatalf("Oldest READY failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Oldest READY = %+v, want nil", got)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := mustCreate(t, s, "bits", "cheer")

	started := time.Now()
	got, err := s.UpdateStatus(ctx, m.ID, message.StatusProcessing, WithProcessedAt(started))
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(started.UTC()) {
		t.Errorf("processed_at = %v, want %v", got.ProcessedAt, started)
	}

	got, err = s.UpdateStatus(ctx, m.ID, message.StatusReady, WithArtifact("/tmp/message_1.wav", 1234))
	if err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if got.AudioPath != "/tmp/message_1.wav" || got.AudioSize != 1234 {
		t.Errorf("artifact = %q/%d", got.AudioPath, got.AudioSize)
	}

	if _, err := s.UpdateStatus(ctx, m.ID, message.StatusPending); !errors.Is(err, message.ErrInvalidTransition) {
		t.Fatalf("READY->PENDING error = %v, want ErrInvalidTransition", err)
	}

	got, err = s.UpdateStatus(ctx, m.ID, message.StatusPlaying, WithPlayedAt(time.Now()))
	if err != nil {
		t.Fatalf("mark playing: %v", err)
	}
	if got.PlayedAt == nil {
		t.Error("played_at not set")
	}

	got, err = s.UpdateStatus(ctx, m.ID, message.StatusPlayed)
	if err != nil {
		t.Fatalf("mark played: %v", err)
	}
	if got.Status != message.StatusPlayed || got.AudioPath == "" {
		t.Errorf("played message = %+v", got)
	}

	if _, err := s.UpdateStatus(ctx, 4242, message.StatusProcessing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusDeletedStampsDeletedAt(t *testing.T) {
	s := newTestStore(t)
	m := mustCreate(t, s, "bits", "bye")

	got, err := s.UpdateStatus(context.Background(), m.ID, message.StatusDeleted)
	if err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatal("deleted_at not set")
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "mentions", "p1")
	mustCreate(t, s, "mentions", "p2")
	a := mustCreate(t, s, "mentions", "a")
	b := mustCreate(t, s, "mentions", "b")
	c := mustCreate(t, s, "bits", "c")
	mustReady(t, s, a.ID, 100)
	mustReady(t, s, b.ID, 50)
	mustReady(t, s, c.ID, 1000)

	snap, err := s.Snapshot(ctx, message.LaneMentions, message.LaneMentions)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ReadyBytes != 150 {
		t.Errorf("ready bytes = %d, want 150", snap.ReadyBytes)
	}
	if got := snap.Counts[message.StatusPending]; got != 2 {
		t.Errorf("pending = %d, want 2", got)
	}
	if got := snap.Counts[message.StatusReady]; got != 2 {
		t.Errorf("ready = %d, want 2", got)
	}

	// Deleted rows keep their size but no longer count as READY bytes.
	if _, err := s.MarkDeleted(ctx, []int64{a.ID}); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	snap, err = s.Snapshot(ctx, message.LaneBits, message.LaneMentions)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ReadyBytes != 50 {
		t.Errorf("ready bytes after delete = %d, want 50", snap.ReadyBytes)
	}
	if len(snap.Counts) != 1 || snap.Counts[message.StatusReady] != 1 {
		t.Errorf("bits counts = %v, want one READY", snap.Counts)
	}

	empty, err := newTestStore(t).Snapshot(ctx, message.LaneMentions, message.LaneMentions)
	if err != nil || empty.ReadyBytes != 0 || len(empty.Counts) != 0 {
		t.Fatalf("Snapshot on empty store = %+v, %v", empty, err)
	}
}

func TestEvictOverflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "mentions", "a")
	unsized := mustCreate(t, s, "mentions", "unsized")
	b := mustCreate(t, s, "mentions", "b")
	c := mustCreate(t, s, "mentions", "c")
	other := mustCreate(t, s, "bits", "other")
	mustReady(t, s, a.ID, 40)
	mustReady(t, s, unsized.ID, 0)
	mustReady(t, s, b.ID, 40)
	mustReady(t, s, c.ID, 40)
	mustReady(t, s, other.ID, 500)

	ev, err := s.EvictOverflow(ctx, message.LaneMentions, 50)
	if err != nil {
		t.Fatalf("EvictOverflow failed: %v", err)
	}
	if ev.Total != 120 || ev.Freed != 80 || ev.Remaining() != 40 {
		t.Fatalf("eviction = %+v, want total 120 freed 80", ev)
	}
	if len(ev.IDs) != 2 || ev.IDs[0] != a.ID || ev.IDs[1] != b.ID {
		t.Fatalf("evicted ids = %v, want [%d %d]", ev.IDs, a.ID, b.ID)
	}

	for id, want := range map[int64]message.Status{
		a.ID:       message.StatusDeleted,
		b.ID:       message.StatusDeleted,
		unsized.ID: message.StatusReady,
		c.ID:       message.StatusReady,
		other.ID:   message.StatusReady,
	} {
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %d failed: %v", id, err)
		}
		if got.Status != want {
			t.Errorf("message %d = %s, want %s", id, got.Status, want)
		}
		if want == message.StatusDeleted && got.DeletedAt == nil {
			t.Errorf("message %d has no deleted_at", id)
		}
	}

	ev, err = s.EvictOverflow(ctx, message.LaneMentions, 50)
	if err != nil {
		t.Fatalf("second EvictOverflow failed: %v", err)
	}
	if ev.Total != 40 || len(ev.IDs) != 0 {
		t.Fatalf("second eviction = %+v, want nothing under budget", ev)
	}
}

func TestEvictOverflowConcurrentCallers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m := mustCreate(t, s, "mentions", fmt.Sprintf("m%d", i))
		mustReady(t, s, m.ID, 60)
	}

	const callers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		freed int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := s.EvictOverflow(ctx, message.LaneMentions, 100)
			if err != nil {
				t.Errorf("EvictOverflow failed: %v", err)
				return
			}
			mu.Lock()
			freed += ev.Freed
			mu.Unlock()
		}()
	}
	wg.Wait()

	snap, err := s.Snapshot(ctx, message.LaneMentions, message.LaneMentions)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ReadyBytes != 60 || snap.Counts[message.StatusReady] != 1 {
		t.Fatalf("after concurrent eviction: %+v, want one READY message of 60 bytes", snap)
	}
	if freed != 300 {
		t.Fatalf("total freed = %d, want 300", freed)
	}
}

func TestSelectEvictions(t *testing.T) {
	ready := func(sizes ...int64) []message.Message {
		out := make([]message.Message, len(sizes))
		for i, s := range sizes {
			out[i] = message.Message{ID: int64(i + 1), AudioSize: s}
		}
		return out
	}

	tests := []struct {
		name      string
		ready     []message.Message
		excess    int64
		wantIDs   []int64
		wantFreed int64
	}{
		{"exact", ready(10, 20, 30), 10, []int64{1}, 10},
		{"accumulate", ready(10, 20, 30), 25, []int64{1, 2}, 30},
		{"skip unsized", ready(0, -1, 40, 5), 30, []int64{3}, 40},
		{"not enough", ready(0, 5), 30, []int64{2}, 5},
		{"nothing sized", ready(0, 0), 30, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, freed := selectEvictions(tt.ready, tt.excess)
			if freed != tt.wantFreed {
				t.Errorf("freed = %d, want %d", freed, tt.wantFreed)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestMarkDeletedSkipsPlayingAndDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := mustCreate(t, s, "bits", "pending")
	playing := mustCreate(t, s, "bits", "playing")
	mustReady(t, s, playing.ID, 10)
	if _, err := s.UpdateStatus(ctx, playing.ID, message.StatusPlaying); err != nil {
		t.Fatalf("mark playing: %v", err)
	}

	n, err := s.MarkDeleted(ctx, []int64{pending.ID, playing.ID})
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkDeleted changed %d rows, want 1", n)
	}

	n, err = s.MarkDeleted(ctx, []int64{pending.ID})
	if err != nil {
		t.Fatalf("second MarkDeleted failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("second MarkDeleted changed %d rows, want 0", n)
	}

	got, _ := s.Get(ctx, playing.ID)
	if got.Status != message.StatusPlaying {
		t.Fatalf("playing message status = %s", got.Status)
	}

	if n, err := s.MarkDeleted(ctx, nil); n != 0 || err != nil {
		t.Fatalf("MarkDeleted(nil) = %d, %v", n, err)
	}
}

func TestDeleteLane(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "mentions", "pending")
	ready := mustCreate(t, s, "mentions", "ready")
	mustReady(t, s, ready.ID, 10)
	other := mustCreate(t, s, "bits", "other lane")

	n, err := s.DeleteLane(ctx, message.LaneMentions, message.StatusPending, message.StatusReady, message.StatusPlayed)
	if err != nil {
		t.Fatalf("DeleteLane failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteLane = %d, want 2", n)
	}

	got, _ := s.Get(ctx, other.ID)
	if got.Status != message.StatusPending {
		t.Fatalf("other lane status = %s, want PENDING", got.Status)
	}
}

func TestArtifactReclaimQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := mustCreate(t, s, "mentions", "gone")
	mustReady(t, s, m.ID, 10)
	live := mustCreate(t, s, "mentions", "still ready")
	mustReady(t, s, live.ID, 10)

	if _, err := s.MarkDeleted(ctx, []int64{m.ID}); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}

	deleted, err := s.DeletedWithArtifacts(ctx)
	if err != nil {
		t.Fatalf("DeletedWithArtifacts failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != m.ID {
		t.Fatalf("DeletedWithArtifacts = %+v", deleted)
	}

	if err := s.ClearArtifact(ctx, m.ID); err != nil {
		t.Fatalf("ClearArtifact failed: %v", err)
	}
	got, _ := s.Get(ctx, m.ID)
	if got.AudioPath != "" {
		t.Fatalf("audio_path = %q after clear", got.AudioPath)
	}

	deleted, err = s.DeletedWithArtifacts(ctx)
	if err != nil {
		t.Fatalf("DeletedWithArtifacts failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("DeletedWithArtifacts after clear = %d rows", len(deleted))
	}

	// Only DELETED rows can lose their artifact.
	if err := s.ClearArtifact(ctx, live.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ClearArtifact on READY error = %v, want ErrNotFound", err)
	}
}

func TestListFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		mustCreate(t, s, "bits", text)
	}
	mustCreate(t, s, "mentions", "four")

	tests := []struct {
		name  string
		f     Filter
		texts []string
	}{
		{"all", Filter{}, []string{"one", "two", "three", "four"}},
		{"lane", Filter{Lane: message.LaneBits}, []string{"one", "two", "three"}},
		{"limit", Filter{Lane: message.LaneBits, Limit: 2}, []string{"one", "two"}},
		{"newest", Filter{Lane: message.LaneBits, Newest: true, Limit: 1}, []string{"three"}},
		{"status", Filter{Statuses: []message.Status{message.StatusReady}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tt.texts) {
				t.Fatalf("List returned %d rows, want %d", len(got), len(tt.texts))
			}
			for i, m := range got {
				if m.Text != tt.texts[i] {
					t.Errorf("row %d = %q, want %q", i, m.Text, tt.texts[i])
				}
			}
		})
	}
}
