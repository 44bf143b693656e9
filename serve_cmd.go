package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/tts/engines"
	"github.com/dgnsrekt/streamtts/internal/worker"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	serveOnce     bool
	serveAutoplay bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the API, audio worker and autoplay loop",
		Long: paragraph(fmt.Sprintf("\n%s the HTTP API, the audio processing worker and the autoplay loop until interrupted. "+
			"Changes to the config file are picked up for log level, autoplay cooldown and /tts/config.", keyword("Run"))),
		Example: paragraph("streamtts serve\nstreamtts serve --engine mock --port 9000\nstreamtts serve --once"),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "process at most one pending message and exit")
	serveCmd.Flags().BoolVar(&serveAutoplay, "autoplay", false, "start with autoplay enabled")
	serveCmd.Flags().String("engine", "", "speech engine: piper, gtts or mock")
	serveCmd.Flags().Int("port", 0, "API listen port")

	_ = viper.BindPFlag("tts.engine", serveCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

// settings holds the reloadable part of the running config.
type settings struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (s *settings) Summary() config.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Summary()
}

func (s *settings) set(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// stack is everything serve builds before it starts running.
type stack struct {
	store  *store.Store
	queue  *queue.Manager
	synth  *tts.Synthesizer
	cache  *cache.DiskCache
	worker *worker.Worker
}

func (s *stack) Close() error {
	var errs []error
	if s.synth != nil {
		errs = append(errs, s.synth.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func buildStack(cfg *config.Config) (_ *stack, err error) {
	st := &stack{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	st.store, err = store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create audio directory: %w", err)
	}

	st.queue = queue.New(st.store, queue.Options{
		MentionsMaxBytes: cfg.Queue.MentionsMaxBytes,
		Logger:           newLogger("queue"),
	})

	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	engine, err := engines.New(ec)
	if err != nil {
		fmt.Fprintln(os.Stderr, warning(engines.Guidance(cfg.TTS.Engine)))
		return nil, err
	}
	if err := engine.Validate(); err != nil {
		_ = engine.Close()
		fmt.Fprintln(os.Stderr, warning(engines.Guidance(cfg.TTS.Engine)))
		return nil, err
	}

	opts := tts.Options{
		Speed:   cfg.TTS.Speed,
		Timeout: cfg.TTS.Timeout,
		Logger:  newLogger("tts"),
	}
	if cfg.TTS.Cache.Enabled {
		st.cache, err = cache.NewDiskCache(cfg.CacheConfig())
		if err != nil {
			_ = engine.Close()
			return nil, err
		}
		opts.Cache = st.cache
	}
	st.synth, err = tts.NewSynthesizer(engine, opts)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	st.worker = worker.New(st.queue, st.store, st.synth, worker.Config{
		OutputDir:     cfg.AudioDir,
		PollInterval:  cfg.Worker.PollInterval,
		BackoffFactor: cfg.Worker.BackoffFactor,
		Logger:        newLogger("worker"),
	})
	return st, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Shutdown cleanup failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveOnce {
		processed, err := st.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			fmt.Println(faint("Nothing to process."))
		}
		return nil
	}

	trig := playback.New(st.queue, playback.Config{
		Cooldown:     cfg.Autoplay.Cooldown,
		PollInterval: cfg.Worker.PollInterval,
		Logger:       newLogger("playback"),
	})
	if serveAutoplay {
		trig.SetAutoplay(true)
	}

	current := &settings{cfg: cfg}
	if used := viper.ConfigFileUsed(); used != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloaded, err := config.Load(viper.GetViper())
			if err != nil {
				log.Warn("Ignoring invalid config change", "path", e.Name, "err", err)
				return
			}
			current.set(reloaded)
			setLogLevel(reloaded.LogLevel)
			trig.SetCooldown(reloaded.Autoplay.Cooldown)
			log.Info("Config reloaded", "path", e.Name)
		})
		viper.WatchConfig()
	}

	srv := api.New(st.queue, trig, api.Options{
		AudioDir:  cfg.AudioDir,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		Settings:  current.Summary,
		Pinger:    st.store,
		Logger:    newLogger("api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API listening", "addr", "http://"+httpServer.Addr, "engine", cfg.TTS.Engine)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return st.worker.Start(gctx)
	})
	g.Go(func() error {
		return trig.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(sctx)
		if werr := st.worker.Stop(); errors.Is(werr, worker.ErrStopTimeout) {
			log.Warn("Worker still synthesizing at exit")
		}
		return err
	})

	return g.Wait()
}
