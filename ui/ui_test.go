package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/client"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/queue"
)

type fakeClient struct {
	mu       sync.Mutex
	stats    api.StatsResponse
	next     *api.PlayNextResponse
	switched []string
	clears   int
	autoplay []bool
	played   []int64
	err      error
}

func (f *fakeClient) Stats(context.Context) (api.StatsResponse, error) {
	return f.stats, f.err
}

func (f *fakeClient) Messages(context.Context, client.ListOptions) ([]api.Message, error) {
	return []api.Message{{ID: 7, Lane: message.LaneMentions, SentBy: "alice", Text: "hello   chat", Status: message.StatusReady, CreatedAt: time.Now()}}, f.err
}

func (f *fakeClient) PlayNext(context.Context) (*api.PlayNextResponse, error) {
	return f.next, f.err
}

func (f *fakeClient) MarkPlayed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, id)
	return f.err
}

func (f *fakeClient) Switch(_ context.Context, lane string) (api.SwitchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, lane)
	return api.SwitchResponse{Message: "Active queue switched to " + lane, Switched: true}, f.err
}

func (f *fakeClient) Clear(context.Context) (api.ClearResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return api.ClearResponse{Message: "cleared", ClearedCount: 2}, f.err
}

func (f *fakeClient) SetAutoplay(_ context.Context, enabled bool) (api.AutoplayResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoplay = append(f.autoplay, enabled)
	return api.AutoplayResponse{Message: "ok", AutoplayEnabled: enabled}, f.err
}

func (f *fakeClient) StatsFeed(context.Context) (*client.Feed, error) {
	return nil, errors.New("feed unavailable")
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, if any, feeding its
// message back into the model.
func press(t *testing.T, m model, k string) (model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(keyPress(k))
	m = next.(model)
	if cmd == nil {
		return m, nil
	}
	msg := cmd()
	next, _ = m.Update(msg)
	return next.(model), msg
}

func loadedModel(fc *fakeClient) model {
	m := newModel(Config{Server: "127.0.0.1:8008"}, fc)
	next, _ := m.Update(statsMsg(fc.stats))
	return next.(model)
}

func TestViewShowsStats(t *testing.T) {
	fc := &fakeClient{stats: api.StatsResponse{
		Stats:           queue.Stats{ActiveLane: message.LaneBits, PendingCount: 3, ReadyCount: 1, MentionsReadyBytes: 2048},
		AutoplayEnabled: true,
	}}
	m := loadedModel(fc)

	next, _ := m.Update(messagesMsg{{ID: 7, SentBy: "alice", Text: "hello", Status: message.StatusReady, CreatedAt: time.Now()}})
	view := next.(model).View()

	for _, want := range []string{"bits", "autoplay on", "3", "2.0 KiB", "alice", "hello"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewConnecting(t *testing.T) {
	m := newModel(Config{Server: "example:8008"}, &fakeClient{})
	if view := m.View(); !strings.Contains(view, "Connecting to example:8008") {
		t.Errorf("view = %q", view)
	}
}

func TestSwitchTogglesLane(t *testing.T) {
	tests := []struct {
		active message.Lane
		want   string
	}{
		{message.LaneMentions, "bits"},
		{message.LaneBits, "mentions"},
	}
	for _, tt := range tests {
		t.Run(string(tt.active), func(t *testing.T) {
			fc := &fakeClient{stats: api.StatsResponse{Stats: queue.Stats{ActiveLane: tt.active}}}
			m := loadedModel(fc)

			m, msg := press(t, m, "s")
			if _, ok := msg.(actionMsg); !ok {
				t.Fatalf("msg = %T, want actionMsg", msg)
			}
			if len(fc.switched) != 1 || fc.switched[0] != tt.want {
				t.Fatalf("switched = %v, want [%s]", fc.switched, tt.want)
			}
			if !strings.Contains(m.status, tt.want) {
				t.Errorf("status = %q", m.status)
			}
		})
	}
}

func TestClearNeedsConfirmation(t *testing.T) {
	fc := &fakeClient{stats: api.StatsResponse{Stats: queue.Stats{ActiveLane: message.LaneMentions}}}
	m := loadedModel(fc)

	m, _ = press(t, m, "c")
	if !m.confirmClear || !strings.Contains(m.View(), "(y/N)") {
		t.Fatal("clear did not ask for confirmation")
	}
	m, _ = press(t, m, "n")
	if fc.clears != 0 || m.confirmClear {
		t.Fatalf("clears = %d after cancel", fc.clears)
	}

	m, _ = press(t, m, "c")
	_, _ = press(t, m, "y")
	if fc.clears != 1 {
		t.Fatalf("clears = %d, want 1", fc.clears)
	}
}

func TestAutoplayToggle(t *testing.T) {
	fc := &fakeClient{stats: api.StatsResponse{AutoplayEnabled: false}}
	m := loadedModel(fc)

	_, _ = press(t, m, "a")
	if len(fc.autoplay) != 1 || !fc.autoplay[0] {
		t.Fatalf("autoplay calls = %v, want [true]", fc.autoplay)
	}
}

func TestPlayThenMarkPlayed(t *testing.T) {
	fc := &fakeClient{next: &api.PlayNextResponse{MessageID: 7, SentBy: "alice"}}
	m := loadedModel(fc)

	m, _ = press(t, m, "m")
	if m.err == nil || len(fc.played) != 0 {
		t.Fatal("mark played without a playing message should error")
	}

	m, _ = press(t, m, "p")
	if m.playing != 7 {
		t.Fatalf("playing = %d, want 7", m.playing)
	}
	m, _ = press(t, m, "m")
	if len(fc.played) != 1 || fc.played[0] != 7 {
		t.Fatalf("played = %v", fc.played)
	}
	if m.playing != 0 {
		t.Errorf("playing = %d after mark", m.playing)
	}
}

func TestFeedFailureFallsBackToPolling(t *testing.T) {
	fc := &fakeClient{}
	m := newModel(Config{}, fc)

	msg := openFeed(fc)()
	next, _ := m.Update(msg)
	m = next.(model)
	if !m.polling {
		t.Fatal("model not polling after feed failure")
	}

	_, cmd := m.Update(refreshMsg(time.Now()))
	if cmd == nil {
		t.Fatal("refresh returned no command")
	}
	batch, ok := cmd().(tea.BatchMsg)
	if !ok || len(batch) != 3 {
		t.Fatalf("refresh batch = %#v, want messages, tick and stats", batch)
	}
}

func TestErrorView(t *testing.T) {
	m := loadedModel(&fakeClient{})
	next, _ := m.Update(errMsg{errors.New("connection refused")})
	view := next.(model).View()
	if !strings.Contains(view, "ERROR") || !strings.Contains(view, "connection refused") {
		t.Errorf("view = %q", view)
	}
}

func TestStatusTimeout(t *testing.T) {
	m := loadedModel(&fakeClient{})
	_ = m.setStatus("first")
	_ = m.setStatus("second")

	next, _ := m.Update(statusTimeoutMsg{seq: 1})
	if got := next.(model).status; got != "second" {
		t.Fatalf("stale timeout cleared status, got %q", got)
	}
	next, _ = next.(model).Update(statusTimeoutMsg{seq: 2})
	if got := next.(model).status; got != "" {
		t.Fatalf("status = %q, want cleared", got)
	}
}
