// Package api exposes the queue engine over HTTP: a chi router of JSON
// handlers, the audio artifact file server, Prometheus metrics and a
// websocket stats feed.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the sustained enqueue rate per second.
	DefaultRateLimit = 10
	// DefaultBurst is the enqueue burst size.
	DefaultBurst = 20
	// DefaultStatsInterval is how often the websocket feed pushes stats.
	DefaultStatsInterval = time.Second

	maxBodyBytes = 64 * 1024
)

// Queue is the queue manager surface the handlers use.
type Queue interface {
	Enqueue(ctx context.Context, n message.New) (*message.Message, error)
	Stats(ctx context.Context) (queue.Stats, error)
	ClearActiveLane(ctx context.Context) (int, error)
	SwitchLane(lane string) bool
	ActiveLane() message.Lane
	Get(ctx context.Context, id int64) (*message.Message, error)
	List(ctx context.Context, f store.Filter) ([]message.Message, error)
}

// Player is the playback surface the handlers use.
type Player interface {
	PlayNext(ctx context.Context) (*message.Message, error)
	MarkPlayed(ctx context.Context, id int64) (*message.Message, error)
	AutoplayEnabled() bool
	SetAutoplay(enabled bool) bool
}

// Pinger checks the store for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// AudioDir is served under AudioPrefix. Empty disables /audio.
	AudioDir string
	// RateLimit and Burst bound POST /tts/add_message.
	RateLimit float64
	Burst     int
	// Settings returns the speech settings for GET /tts/config. It is
	// called per request so reloaded config shows up.
	Settings func() config.Summary
	// Pinger is checked by /healthz. Nil always reports ok.
	Pinger Pinger
	// StatsInterval paces the websocket feed.
	StatsInterval time.Duration
	Logger        *log.Logger
}

// Server holds the handler dependencies.
type Server struct {
	queue    Queue
	player   Player
	audioDir string
	settings func() config.Summary
	pinger   Pinger
	limiter  *rate.Limiter
	interval time.Duration
	logger   *log.Logger
}

// New returns a Server over q and p.
func New(q Queue, p Player, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Settings == nil {
		opts.Settings = func() config.Summary { return config.Summary{} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithPrefix("api")
	}

	return &Server{
		queue:    q,
		player:   p,
		audioDir: opts.AudioDir,
		settings: opts.Settings,
		pinger:   opts.Pinger,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		interval: opts.StatsInterval,
		logger:   logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logRequests(s.logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", s.health)

	if s.audioDir != "" {
		files := http.StripPrefix(AudioPrefix, http.FileServer(http.Dir(s.audioDir)))
		r.Handle(AudioPrefix+"*", noListing(files))
	}

	r.Route("/tts", func(r chi.Router) {
		r.With(limit(s.limiter, s.logger)).Post("/add_message", s.addMessage)
		r.Get("/active_queue_stats", s.stats)
		r.Post("/play_next", s.playNext)
		r.Post("/mark_played/{id}", s.markPlayed)
		r.Post("/autoplay/start", s.autoplay(true))
		r.Post("/autoplay/stop", s.autoplay(false))
		r.Post("/clear_active_queue", s.clear)
		r.Post("/switch_active_queue", s.switchLane)
		r.Get("/messages", s.listMessages)
		r.Get("/messages/{id}", s.getMessage)
		r.Get("/config", s.ttsConfig)
		r.Get("/ws", s.statsFeed)
	})

	return r
}

// noListing hides directory indexes from the artifact file server.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
