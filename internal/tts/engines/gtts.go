package engines

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgnsrekt/streamtts/internal/tts"
	"golang.org/x/time/rate"
)

const (
	defaultGTTSBinary   = "gtts-cli"
	defaultFFmpegBinary = "ffmpeg"

	maxMP3Size = 50 * 1024 * 1024
	maxPCMSize = 50 * 1024 * 1024
)

// GTTSEngine speaks through Google Translate's TTS using gtts-cli, then
// converts the MP3 to raw PCM with ffmpeg. No API key is needed, so calls
// are rate limited to avoid being blocked.
type GTTSEngine struct {
	binary     string
	ffmpeg     string
	language   string
	slow       bool
	tempDir    string
	sampleRate int
	limiter    *rate.Limiter
}

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	Binary string // defaults to "gtts-cli"
	FFmpeg string // defaults to "ffmpeg"

	// Language code (e.g. "en", "es"); defaults to "en".
	Language string

	// Slow asks gtts-cli for slower speech.
	Slow bool

	// TempDir holds the intermediate MP3; defaults to the system temp dir.
	TempDir string

	// SampleRate of the converted PCM; defaults to 22050.
	SampleRate int

	// RequestsPerMinute defaults to 50.
	RequestsPerMinute int
}

// NewGTTSEngine creates a new gTTS engine.
func NewGTTSEngine(config GTTSConfig) (*GTTSEngine, error) {
	if config.Binary == "" {
		config.Binary = defaultGTTSBinary
	}
	if config.FFmpeg == "" {
		config.FFmpeg = defaultFFmpegBinary
	}
	if config.Language == "" {
		config.Language = "en"
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(config.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultPiperSampleRate
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 50
	}

	return &GTTSEngine{
		binary:     config.Binary,
		ffmpeg:     config.FFmpeg,
		language:   config.Language,
		slow:       config.Slow,
		tempDir:    config.TempDir,
		sampleRate: config.SampleRate,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
	}, nil
}

// Synthesize converts text to raw PCM: text → gtts-cli → MP3 → ffmpeg → PCM.
func (e *GTTSEngine) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	if n := utf8.RuneCountInString(text); n > tts.MaxTextRunes {
		return nil, fmt.Errorf("%w: %d characters (max %d)", tts.ErrTextTooLong, n, tts.MaxTextRunes)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gtts rate limit: %w", err)
	}

	mp3, err := e.toMP3(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.toPCM(ctx, mp3, speed)
}

func (e *GTTSEngine) toMP3(ctx context.Context, text string) ([]byte, error) {
	args := []string{"-l", e.language}
	if e.slow {
		args = append(args, "--slow")
	}
	// "-" reads the text from stdin.
	args = append(args, "-o", "-", "-")

	mp3, err := run(ctx, e.binary, args, strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	if len(mp3) == 0 {
		return nil, fmt.Errorf("gtts-cli produced no mp3: %w", tts.ErrEmptyAudio)
	}
	if err := checkSize("gtts-cli", mp3, maxMP3Size); err != nil {
		return nil, err
	}
	return mp3, nil
}

func (e *GTTSEngine) toPCM(ctx context.Context, mp3 []byte, speed float64) ([]byte, error) {
	f, err := os.CreateTemp(e.tempDir, "gtts-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create temp mp3: %w", err)
	}
	defer os.Remove(f.Name())
	_, err = f.Write(mp3)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write temp mp3: %w", err)
	}

	pcm, err := run(ctx, e.ffmpeg, e.ffmpegArgs(f.Name(), speed), nil)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no pcm: %w", tts.ErrEmptyAudio)
	}
	if err := checkSize("ffmpeg", pcm, maxPCMSize); err != nil {
		return nil, err
	}
	return pcm[:len(pcm)&^1], nil
}

// ffmpegArgs converts input to signed 16-bit mono at the engine rate. The
// atempo filter only accepts 0.5 to 2.0, so speed is clamped to that.
func (e *GTTSEngine) ffmpegArgs(input string, speed float64) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(e.sampleRate),
		"-ac", "1",
	}
	if speed != 1.0 {
		speed = min(max(speed, 0.5), 2.0)
		args = append(args, "-filter:a", fmt.Sprintf("atempo=%.2f", speed))
	}
	return append(args, "-")
}

// Info returns engine capabilities and configuration.
func (e *GTTSEngine) Info() tts.EngineInfo {
	voice := e.language
	if e.slow {
		voice += "-slow"
	}
	return tts.EngineInfo{
		Name:        "gtts",
		Voice:       voice,
		SampleRate:  e.sampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: tts.MaxTextRunes,
		IsOnline:    true,
	}
}

// Validate checks that gtts-cli and ffmpeg are on PATH.
func (e *GTTSEngine) Validate() error {
	for _, bin := range []string{e.binary, e.ffmpeg} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found in PATH: %v", tts.ErrEngineNotAvailable, bin, err)
		}
	}
	return nil
}

// Close is a no-op.
func (e *GTTSEngine) Close() error { return nil }

var _ tts.Engine = (*GTTSEngine)(nil)
