package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/gorilla/websocket"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	*httptest.Server
	queue    *queue.Manager
	trigger  *playback.Trigger
	audioDir string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "streamtts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := log.New(io.Discard)
	q := queue.New(s, queue.Options{Logger: logger})
	tr := playback.New(q, playback.Config{Logger: logger})

	if opts.AudioDir == "" {
		opts.AudioDir = t.TempDir()
	}
	if opts.Pinger == nil {
		opts.Pinger = s
	}
	opts.Logger = logger

	srv := httptest.NewServer(New(q, tr, opts).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, queue: q, trigger: tr, audioDir: opts.AudioDir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ready walks a new message to READY with an artifact in the audio dir.
func (ts *testServer) ready(t *testing.T, lane, text string) *message.Message {
	t.Helper()
	ctx := context.Background()

	m, err := ts.queue.Enqueue(ctx, message.New{Lane: lane, Sender: "viewer", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.queue.UpdateStatus(ctx, m.ID, message.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(ts.audioDir, "message_"+idStr(m.ID)+".wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.queue.UpdateStatus(ctx, m.ID, message.StatusReady, store.WithArtifact(path, 4)); err != nil {
		t.Fatal(err)
	}
	return m
}

func idStr(id int64) string { return strconv.FormatInt(id, 10) }

func TestAddMessage(t *testing.T) {
	amount := int64(500)
	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"mention", AddMessageRequest{SentBy: "alice", Text: "hello chat", MessageType: "mention"}, http.StatusCreated},
		{"mentions", AddMessageRequest{SentBy: "alice", Text: "hello chat", MessageType: "mentions"}, http.StatusCreated},
		{"bits", AddMessageRequest{SentBy: "bob", Text: "cheer", MessageType: "bits", BitsAmount: &amount}, http.StatusCreated},
		{"invalid lane", AddMessageRequest{SentBy: "eve", Text: "hi", MessageType: "subs"}, http.StatusBadRequest},
		{"empty text", AddMessageRequest{SentBy: "eve", Text: "   ", MessageType: "mention"}, http.StatusBadRequest},
		{"bad json", "{not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Options{})

			resp := ts.do(t, http.MethodPost, "/tts/add_message", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusCreated {
				if e := decodeBody[ErrorResponse](t, resp); e.Error == "" {
					t.Error("error body is empty")
				}
				return
			}

			got := decodeBody[MessageResponse](t, resp)
			if got.MessageID <= 0 || got.Message != "Message added to queue" {
				t.Fatalf("response = %+v", got)
			}
			m, err := ts.queue.Get(context.Background(), got.MessageID)
			if err != nil {
				t.Fatal(err)
			}
			if m.Status != message.StatusPending {
				t.Errorf("status = %s, want PENDING", m.Status)
			}
		})
	}
}

func TestAddMessageRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{RateLimit: 0.001, Burst: 1})
	body := AddMessageRequest{SentBy: "alice", Text: "hi", MessageType: "mentions"}

	if resp := ts.do(t, http.MethodPost, "/tts/add_message", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", resp.StatusCode)
	}
	resp := ts.do(t, http.MethodPost, "/tts/add_message", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Other routes are not limited.
	if resp := ts.do(t, http.MethodGet, "/tts/active_queue_stats", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("stats status = %d, want 200", resp.StatusCode)
	}
}

func TestPlayNextAndMarkPlayed(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := ts.do(t, http.MethodPost, "/tts/play_next", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty play_next status = %d", resp.StatusCode)
	}
	if got := decodeBody[PlayNextResponse](t, resp); !got.Empty() {
		t.Fatalf("empty play_next = %+v", got)
	}

	m := ts.ready(t, "mentions", "read me")

	got := decodeBody[PlayNextResponse](t, ts.do(t, http.MethodPost, "/tts/play_next", nil))
	if got.MessageID != m.ID || got.Text != "read me" || got.SentBy != "viewer" {
		t.Fatalf("play_next = %+v", got)
	}
	if want := "/audio/message_" + idStr(m.ID) + ".wav"; got.AudioFilePath != want {
		t.Errorf("audio path = %q, want %q", got.AudioFilePath, want)
	}

	// The URL resolves through the artifact file server.
	if resp := ts.do(t, http.MethodGet, got.AudioFilePath, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("GET %s = %d", got.AudioFilePath, resp.StatusCode)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"playing", "/tts/mark_played/" + idStr(m.ID), http.StatusOK},
		{"already played", "/tts/mark_played/" + idStr(m.ID), http.StatusConflict},
		{"unknown", "/tts/mark_played/9999", http.StatusNotFound},
		{"not a number", "/tts/mark_played/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := ts.do(t, http.MethodPost, tt.path, nil); resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	played, err := ts.queue.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if played.Status != message.StatusPlayed {
		t.Errorf("status = %s, want PLAYED", played.Status)
	}
}

func TestSwitchAndClear(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()

	for _, lane := range []string{"mentions", "bits", "bits"} {
		if _, err := ts.queue.Enqueue(ctx, message.New{Lane: lane, Sender: "s", Text: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	got := decodeBody[SwitchResponse](t, ts.do(t, http.MethodPost, "/tts/switch_active_queue", SwitchRequest{QueueType: "bits"}))
	if !got.Switched || got.ActiveQueueType != message.LaneBits {
		t.Fatalf("switch = %+v", got)
	}
	got = decodeBody[SwitchResponse](t, ts.do(t, http.MethodPost, "/tts/switch_active_queue", SwitchRequest{QueueType: "bits"}))
	if got.Switched || !strings.Contains(got.Message, "already active") {
		t.Fatalf("repeat switch = %+v", got)
	}
	if resp := ts.do(t, http.MethodPost, "/tts/switch_active_queue", SwitchRequest{QueueType: "subs"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid switch status = %d, want 400", resp.StatusCode)
	}

	cleared := decodeBody[ClearResponse](t, ts.do(t, http.MethodPost, "/tts/clear_active_queue", nil))
	if cleared.ClearedCount != 2 || !strings.Contains(cleared.Message, "bits") {
		t.Fatalf("clear = %+v", cleared)
	}

	st := decodeBody[StatsResponse](t, ts.do(t, http.MethodGet, "/tts/active_queue_stats", nil))
	if st.ActiveLane != message.LaneBits || st.PendingCount != 0 {
		t.Errorf("stats after clear = %+v", st)
	}
}

func TestAutoplayToggle(t *testing.T) {
	ts := newTestServer(t, Options{})

	got := decodeBody[AutoplayResponse](t, ts.do(t, http.MethodPost, "/tts/autoplay/start", nil))
	if !got.AutoplayEnabled || !got.Changed {
		t.Fatalf("start = %+v", got)
	}
	st := decodeBody[StatsResponse](t, ts.do(t, http.MethodGet, "/tts/active_queue_stats", nil))
	if !st.AutoplayEnabled {
		t.Error("stats autoplay_enabled = false after start")
	}

	got = decodeBody[AutoplayResponse](t, ts.do(t, http.MethodPost, "/tts/autoplay/stop", nil))
	if got.AutoplayEnabled || !got.Changed {
		t.Fatalf("stop = %+v", got)
	}
	if ts.trigger.AutoplayEnabled() {
		t.Error("trigger still enabled")
	}
}

func TestMessages(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()

	r := ts.ready(t, "mentions", "ready one")
	if _, err := ts.queue.Enqueue(ctx, message.New{Lane: "mentions", Sender: "s", Text: "pending"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.queue.Enqueue(ctx, message.New{Lane: "bits", Sender: "s", Text: "bits"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query   string
		wantLen int
	}{
		{"", 3},
		{"?lane=mention", 2},
		{"?status=ready", 1},
		{"?status=PENDING,READY&lane=bits", 1},
		{"?limit=1&order=newest", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, "/tts/messages"+tt.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if got := decodeBody[[]Message](t, resp); len(got) != tt.wantLen {
				t.Fatalf("got %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}

	for _, bad := range []string{"?status=LOST", "?lane=subs", "?limit=-1", "?order=random"} {
		if resp := ts.do(t, http.MethodGet, "/tts/messages"+bad, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", bad, resp.StatusCode)
		}
	}

	got := decodeBody[Message](t, ts.do(t, http.MethodGet, "/tts/messages/"+idStr(r.ID), nil))
	if got.Status != message.StatusReady || got.AudioSize != 4 || !strings.HasPrefix(got.AudioURL, AudioPrefix) {
		t.Errorf("message = %+v", got)
	}
	if resp := ts.do(t, http.MethodGet, "/tts/messages/4242", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown message status = %d, want 404", resp.StatusCode)
	}
}

func TestAudioNoDirectoryListing(t *testing.T) {
	ts := newTestServer(t, Options{})

	if resp := ts.do(t, http.MethodGet, "/audio/", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /audio/ = %d, want 404", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/audio/missing.wav", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing = %d, want 404", resp.StatusCode)
	}
}

func TestConfigAndHealth(t *testing.T) {
	ts := newTestServer(t, Options{Settings: func() config.Summary {
		return config.Summary{VoiceConfig: "amy100", AutoplayCooldown: 10, TTSSpeed: 0.85, LangCode: "en"}
	}})

	got := decodeBody[config.Summary](t, ts.do(t, http.MethodGet, "/tts/config", nil))
	if got.VoiceConfig != "amy100" || got.AutoplayCooldown != 10 || got.TTSSpeed != 0.85 {
		t.Errorf("config = %+v", got)
	}

	if resp := ts.do(t, http.MethodGet, "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	down := newTestServer(t, Options{Pinger: fakePinger{err: errors.New("disk gone")}})
	resp := down.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", resp.StatusCode)
	}
	if h := decodeBody[HealthResponse](t, resp); h.Error != "disk gone" {
		t.Errorf("health = %+v", h)
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := ts.do(t, http.MethodGet, "/healthz", nil)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("generated X-Request-ID missing")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want echo", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})

	ts.do(t, http.MethodGet, "/tts/active_queue_stats", nil)
	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "streamtts_http_requests_total") {
		t.Error("metrics output missing streamtts_http_requests_total")
	}
}

func TestStatsFeed(t *testing.T) {
	ts := newTestServer(t, Options{StatsInterval: 20 * time.Millisecond})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/tts/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first StatsResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if first.ActiveLane != message.LaneMentions || first.PendingCount != 0 {
		t.Fatalf("first frame = %+v", first)
	}

	if _, err := ts.queue.Enqueue(context.Background(), message.New{Lane: "mentions", Sender: "s", Text: "t"}); err != nil {
		t.Fatal(err)
	}
	for {
		var frame StatsResponse
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.PendingCount == 1 {
			return
		}
	}
}
