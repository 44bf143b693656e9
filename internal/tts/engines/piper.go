package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

const (
	defaultPiperBinary     = "piper"
	defaultPiperSampleRate = 22050

	// maxPiperOutput bounds raw PCM from one call.
	maxPiperOutput = 50 * 1024 * 1024
)

// PiperEngine speaks through the Piper binary, one fresh process per call.
// Text is written to stdin before the process starts.
type PiperEngine struct {
	binary     string
	modelPath  string
	configPath string
	speaker    string
	sampleRate int
}

// PiperConfig holds configuration for the Piper engine.
type PiperConfig struct {
	// Binary defaults to "piper" on PATH.
	Binary string

	// ModelPath is the .onnx voice model (required).
	ModelPath string

	// ConfigPath defaults to the model path with ".json" appended, then
	// with its extension replaced by ".json".
	ConfigPath string

	// Speaker selects a speaker id in multi-speaker models.
	Speaker string

	// SampleRate overrides the rate read from the model config.
	SampleRate int
}

// NewPiperEngine creates a new Piper engine.
func NewPiperEngine(config PiperConfig) (*PiperEngine, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("%w: piper model path is required", tts.ErrEngineNotAvailable)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: piper model: %v", tts.ErrEngineNotAvailable, err)
	}
	if config.Binary == "" {
		config.Binary = defaultPiperBinary
	}
	if config.ConfigPath == "" {
		config.ConfigPath = findModelConfig(config.ModelPath)
	}
	if config.SampleRate == 0 {
		config.SampleRate = modelSampleRate(config.ConfigPath)
	}

	return &PiperEngine{
		binary:     config.Binary,
		modelPath:  config.ModelPath,
		configPath: config.ConfigPath,
		speaker:    config.Speaker,
		sampleRate: config.SampleRate,
	}, nil
}

// Synthesize converts text to raw 16-bit mono PCM.
func (e *PiperEngine) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	if n := utf8.RuneCountInString(text); n > tts.MaxTextRunes {
		return nil, fmt.Errorf("%w: %d characters (max %d)", tts.ErrTextTooLong, n, tts.MaxTextRunes)
	}
	if speed <= 0 {
		return nil, tts.ErrInvalidSpeed
	}

	pcm, err := run(ctx, e.binary, e.args(speed), strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, tts.ErrEmptyAudio
	}
	if err := checkSize("piper", pcm, maxPiperOutput); err != nil {
		return nil, err
	}
	// A trailing odd byte is not a whole sample.
	return pcm[:len(pcm)&^1], nil
}

// args builds the command line. Piper's length scale is the inverse of
// speed: 0.5 speed is scale 2.0.
func (e *PiperEngine) args(speed float64) []string {
	args := []string{
		"--model", e.modelPath,
		"--output-raw",
		"--length-scale", strconv.FormatFloat(1/speed, 'f', 2, 64),
	}
	if e.configPath != "" {
		args = append(args, "--config", e.configPath)
	}
	if e.speaker != "" {
		args = append(args, "--speaker", e.speaker)
	}
	return args
}

// Info returns engine capabilities and configuration.
func (e *PiperEngine) Info() tts.EngineInfo {
	return tts.EngineInfo{
		Name:        "piper",
		Voice:       e.voice(),
		SampleRate:  e.sampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: tts.MaxTextRunes,
	}
}

func (e *PiperEngine) voice() string {
	v := strings.TrimSuffix(filepath.Base(e.modelPath), filepath.Ext(e.modelPath))
	if e.speaker != "" {
		v += "#" + e.speaker
	}
	return v
}

// Validate checks that the binary is on PATH and the model is readable.
func (e *PiperEngine) Validate() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH: %v", tts.ErrEngineNotAvailable, e.binary, err)
	}
	if _, err := os.Stat(e.modelPath); err != nil {
		return fmt.Errorf("%w: model file not accessible: %v", tts.ErrEngineNotAvailable, err)
	}
	return nil
}

// Close is a no-op; every call runs its own process.
func (e *PiperEngine) Close() error { return nil }

func findModelConfig(model string) string {
	for _, p := range []string{
		model + ".json",
		strings.TrimSuffix(model, filepath.Ext(model)) + ".json",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// modelSampleRate reads audio.sample_rate from a piper model config,
// falling back to 22050 Hz.
func modelSampleRate(configPath string) int {
	if configPath == "" {
		return defaultPiperSampleRate
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return defaultPiperSampleRate
	}
	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.Audio.SampleRate <= 0 {
		return defaultPiperSampleRate
	}
	return cfg.Audio.SampleRate
}

var _ tts.Engine = (*PiperEngine)(nil)
