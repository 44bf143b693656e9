package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/store"
)

func newTestClient(t *testing.T) (*Client, *queue.Manager) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "streamtts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := log.New(io.Discard)
	q := queue.New(s, queue.Options{Logger: logger})
	tr := playback.New(q, playback.Config{Logger: logger})
	srv := httptest.NewServer(api.New(q, tr, api.Options{
		AudioDir:      t.TempDir(),
		Pinger:        s,
		StatsInterval: 20 * time.Millisecond,
		Logger:        logger,
	}).Handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return c, q
}

func TestNew(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:8008", "http://127.0.0.1:8008/tts/config", false},
		{"127.0.0.1:8008/", "http://127.0.0.1:8008/tts/config", false},
		{"https://tts.example.com/base", "https://tts.example.com/base/tts/config", false},
		{"ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := New(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := c.URL("/tts/config"); got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	c, q := newTestClient(t)
	ctx := context.Background()

	added, err := c.AddMessage(ctx, api.AddMessageRequest{SentBy: "alice", Text: "hello", MessageType: "mention"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.PendingCount != 1 || st.ActiveLane != message.LaneMentions {
		t.Fatalf("stats = %+v", st)
	}

	next, err := c.PlayNext(ctx)
	if err != nil || next != nil {
		t.Fatalf("PlayNext with nothing ready = %+v, %v", next, err)
	}

	if _, err := q.UpdateStatus(ctx, added.MessageID, message.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if _, err := q.UpdateStatus(ctx, added.MessageID, message.StatusReady, store.WithArtifact("/tmp/message_1.wav", 8)); err != nil {
		t.Fatal(err)
	}

	next, err = c.PlayNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.MessageID != added.MessageID || next.AudioFilePath != "/audio/message_1.wav" {
		t.Fatalf("PlayNext = %+v", next)
	}
	if err := c.MarkPlayed(ctx, added.MessageID); err != nil {
		t.Fatalf("MarkPlayed: %v", err)
	}

	m, err := c.Message(ctx, added.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != message.StatusPlayed {
		t.Errorf("status = %s, want PLAYED", m.Status)
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	err := c.MarkPlayed(ctx, 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkPlayed unknown = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message == "" {
		t.Errorf("APIError = %+v", apiErr)
	}

	if _, err := c.Switch(ctx, "subs"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Switch invalid = %v, want ErrBadRequest", err)
	}
	if _, err := c.AddMessage(ctx, api.AddMessageRequest{Text: "", MessageType: "bits"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("AddMessage empty = %v, want ErrBadRequest", err)
	}
}

func TestSwitchClearAndList(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, lane := range []string{"bits", "bits", "mentions"} {
		if _, err := c.AddMessage(ctx, api.AddMessageRequest{SentBy: "s", Text: "t", MessageType: lane}); err != nil {
			t.Fatal(err)
		}
	}

	sw, err := c.Switch(ctx, "bits")
	if err != nil || !sw.Switched {
		t.Fatalf("Switch = %+v, %v", sw, err)
	}

	list, err := c.Messages(ctx, ListOptions{Lane: "bits", Statuses: []string{"PENDING"}, Limit: 10, Newest: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID < list[1].ID {
		t.Fatalf("Messages = %+v", list)
	}

	cl, err := c.Clear(ctx)
	if err != nil || cl.ClearedCount != 2 {
		t.Fatalf("Clear = %+v, %v", cl, err)
	}

	ap, err := c.SetAutoplay(ctx, true)
	if err != nil || !ap.AutoplayEnabled {
		t.Fatalf("SetAutoplay = %+v, %v", ap, err)
	}
	if err := c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestStatsFeed(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	feed, err := c.StatsFeed(ctx)
	if err != nil {
		t.Fatalf("StatsFeed: %v", err)
	}
	defer feed.Close()

	st, err := feed.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if st.ActiveLane != message.LaneMentions {
		t.Errorf("active lane = %q", st.ActiveLane)
	}
}
