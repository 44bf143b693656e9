// Package config holds the typed service configuration read through viper:
// defaults, environment binding, path expansion and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/tts/engines"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName names the config file, env prefix and app directories.
const AppName = "streamtts"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database string         `mapstructure:"database"`
	AudioDir string         `mapstructure:"audio_dir"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Autoplay AutoplayConfig `mapstructure:"autoplay"`
	TTS      TTSConfig      `mapstructure:"tts"`
	API      APIConfig      `mapstructure:"api"`
	LogLevel string         `mapstructure:"log_level"`
	LogFile  string         `mapstructure:"log_file"`
}

// ServerConfig is where the HTTP API listens.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WorkerConfig tunes the audio processing loop.
type WorkerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BackoffFactor int           `mapstructure:"backoff_factor"`
}

// QueueConfig tunes the queue manager.
type QueueConfig struct {
	MentionsMaxBytes int64 `mapstructure:"mentions_max_bytes"`
}

// AutoplayConfig tunes the autoplay loop.
type AutoplayConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// TTSConfig selects and tunes the speech engine.
type TTSConfig struct {
	Engine        string            `mapstructure:"engine"`
	Speed         float64           `mapstructure:"speed"`
	LangCode      string            `mapstructure:"lang_code"`
	VoiceConfig   string            `mapstructure:"voice_config"`
	VoiceMappings map[string]string `mapstructure:"voice_mappings"`
	DefaultVoice  string            `mapstructure:"default_voice"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	Piper         PiperConfig       `mapstructure:"piper"`
	GTTS          GTTSConfig        `mapstructure:"gtts"`
	Cache         CacheConfig       `mapstructure:"cache"`
}

// PiperConfig holds piper-only settings.
type PiperConfig struct {
	Binary  string `mapstructure:"binary"`
	Speaker string `mapstructure:"speaker"`
}

// GTTSConfig holds gtts-only settings.
type GTTSConfig struct {
	Slow              bool `mapstructure:"slow"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// CacheConfig configures the synthesis cache.
type CacheConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Dir              string `mapstructure:"dir"`
	MaxBytes         int64  `mapstructure:"max_bytes"`
	CompressionLevel int    `mapstructure:"compression_level"`
}

// APIConfig limits the enqueue endpoint.
type APIConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// DataDir returns the per-user data directory.
func DataDir() (string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).DataDirs()
	if err != nil {
		return "", fmt.Errorf("find data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", errors.New("find data directory: none available")
	}
	return dirs[0], nil
}

// Bind registers defaults rooted at dataDir and the STREAMTTS_ environment
// prefix on v. Nested keys map to env vars with dots as underscores, e.g.
// STREAMTTS_TTS_ENGINE.
func Bind(v *viper.Viper, dataDir string) {
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8008)
	v.SetDefault("database", filepath.Join(dataDir, "streamtts.db"))
	v.SetDefault("audio_dir", filepath.Join(dataDir, "audio"))

	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.backoff_factor", 5)
	v.SetDefault("queue.mentions_max_bytes", queue.DefaultMentionsMaxBytes)
	v.SetDefault("autoplay.cooldown", 10*time.Second)

	v.SetDefault("tts.engine", engines.NamePiper)
	v.SetDefault("tts.speed", 0.85)
	v.SetDefault("tts.lang_code", "en")
	v.SetDefault("tts.voice_config", "am_adam50_am_michael50")
	v.SetDefault("tts.voice_mappings", map[string]string{
		"am_adam":    filepath.Join(dataDir, "voices", "en_US-ryan-medium.onnx"),
		"am_michael": filepath.Join(dataDir, "voices", "en_US-joe-medium.onnx"),
	})
	v.SetDefault("tts.default_voice", "")
	v.SetDefault("tts.timeout", tts.DefaultTimeout)
	v.SetDefault("tts.piper.binary", "piper")
	v.SetDefault("tts.piper.speaker", "")
	v.SetDefault("tts.gtts.slow", false)
	v.SetDefault("tts.gtts.requests_per_minute", 50)
	v.SetDefault("tts.cache.enabled", true)
	v.SetDefault("tts.cache.dir", filepath.Join(dataDir, "cache"))
	v.SetDefault("tts.cache.max_bytes", cache.DefaultCapacity)
	v.SetDefault("tts.cache.compression_level", cache.DefaultCompressionLevel)

	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.burst", 20)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load decodes v into a Config, expands ~ in paths and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	paths := []*string{&cfg.Database, &cfg.AudioDir, &cfg.TTS.Cache.Dir, &cfg.LogFile, &cfg.TTS.Piper.Binary}
	for _, p := range paths {
		if err := expand(p); err != nil {
			return nil, err
		}
	}
	for name, model := range cfg.TTS.VoiceMappings {
		if err := expand(&model); err != nil {
			return nil, err
		}
		cfg.TTS.VoiceMappings[name] = model
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expand(p *string) error {
	if *p == "" {
		return nil
	}
	out, err := homedir.Expand(*p)
	if err != nil {
		return fmt.Errorf("expand %q: %w", *p, err)
	}
	*p = out
	return nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Database != "", "database path is empty")
	check(c.AudioDir != "", "audio_dir is empty")
	check(c.Worker.PollInterval > 0, "worker.poll_interval must be positive, got %s", c.Worker.PollInterval)
	check(c.Worker.BackoffFactor >= 1, "worker.backoff_factor must be at least 1, got %d", c.Worker.BackoffFactor)
	check(c.Queue.MentionsMaxBytes > 0, "queue.mentions_max_bytes must be positive, got %d", c.Queue.MentionsMaxBytes)
	check(c.Autoplay.Cooldown > 0, "autoplay.cooldown must be positive, got %s", c.Autoplay.Cooldown)
	check(c.TTS.Speed >= 0.25 && c.TTS.Speed <= 4.0, "tts.speed must be between 0.25 and 4.0, got %.2f", c.TTS.Speed)
	check(c.TTS.Timeout > 0, "tts.timeout must be positive, got %s", c.TTS.Timeout)
	check(len(c.TTS.LangCode) >= 2 && len(c.TTS.LangCode) <= 5, "tts.lang_code must be 2-5 characters, got %q", c.TTS.LangCode)
	check(c.API.RateLimit > 0, "api.rate_limit must be positive, got %v", c.API.RateLimit)
	check(c.API.Burst >= 1, "api.burst must be at least 1, got %d", c.API.Burst)
	if c.TTS.Cache.Enabled {
		check(c.TTS.Cache.Dir != "", "tts.cache.dir is empty")
		check(c.TTS.Cache.MaxBytes > 0, "tts.cache.max_bytes must be positive, got %d", c.TTS.Cache.MaxBytes)
	}

	switch strings.ToLower(c.TTS.Engine) {
	case engines.NamePiper:
		if _, err := c.VoiceMix(); err != nil {
			errs = append(errs, fmt.Errorf("%w: tts.voice_config: %w", ErrInvalid, err))
		}
	case engines.NameGTTS, "google", engines.NameMock:
	default:
		check(false, "tts.engine %q is not one of %s", c.TTS.Engine, strings.Join(engines.Names, ", "))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		check(false, "log_level %q: %v", c.LogLevel, err)
	}
	return errors.Join(errs...)
}

// VoiceMix resolves tts.voice_config through tts.voice_mappings.
func (c *Config) VoiceMix() (tts.VoiceMix, error) {
	return tts.ParseVoiceConfig(c.TTS.VoiceConfig, c.TTS.VoiceMappings, c.TTS.DefaultVoice)
}

// EngineConfig builds the engine selection for engines.New. Piper speaks
// with the model of the highest weighted voice in the mix.
func (c *Config) EngineConfig() (engines.Config, error) {
	ec := engines.Config{
		Engine: c.TTS.Engine,
		Piper: engines.PiperConfig{
			Binary:  c.TTS.Piper.Binary,
			Speaker: c.TTS.Piper.Speaker,
		},
		GTTS: engines.GTTSConfig{
			Language:          c.TTS.LangCode,
			Slow:              c.TTS.GTTS.Slow,
			RequestsPerMinute: c.TTS.GTTS.RequestsPerMinute,
		},
	}
	if strings.EqualFold(c.TTS.Engine, engines.NamePiper) {
		mix, err := c.VoiceMix()
		if err != nil {
			return engines.Config{}, err
		}
		ec.Piper.ModelPath = mix.Dominant().Voice
	}
	return ec, nil
}

// CacheConfig builds the synthesis cache configuration.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Dir:              c.TTS.Cache.Dir,
		Capacity:         c.TTS.Cache.MaxBytes,
		CompressionLevel: c.TTS.Cache.CompressionLevel,
	}
}

// Summary is the client-facing view of the speech settings.
type Summary struct {
	VoiceConfig      string  `json:"voice_config"`
	AutoplayCooldown int     `json:"autoplay_cooldown"`
	TTSSpeed         float64 `json:"tts_speed"`
	LangCode         string  `json:"lang_code"`
	Engine           string  `json:"engine"`
}

// Summary returns the settings exposed at /tts/config. The cooldown is in
// whole seconds.
func (c *Config) Summary() Summary {
	return Summary{
		VoiceConfig:      c.TTS.VoiceConfig,
		AutoplayCooldown: int(c.Autoplay.Cooldown / time.Second),
		TTSSpeed:         c.TTS.Speed,
		LangCode:         c.TTS.LangCode,
		Engine:           c.TTS.Engine,
	}
}
