package engines

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// Engine names accepted by New.
const (
	NamePiper = "piper"
	NameGTTS  = "gtts"
	NameMock  = "mock"
)

// Names lists the engines New can build.
var Names = []string{NamePiper, NameGTTS, NameMock}

var errNoModel = errors.New("piper requires a voice model; set tts.voice_mappings and tts.voice_config")

// Config selects and configures one engine.
type Config struct {
	Engine string
	Piper  PiperConfig
	GTTS   GTTSConfig
	Mock   MockConfig
}

// New builds the engine named by cfg.Engine. "google" is accepted for gtts.
func New(cfg Config) (tts.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case NamePiper:
		if cfg.Piper.ModelPath == "" {
			return nil, fmt.Errorf("%w: %v", tts.ErrEngineNotAvailable, errNoModel)
		}
		return NewPiperEngine(cfg.Piper)
	case NameGTTS, "google":
		return NewGTTSEngine(cfg.GTTS)
	case NameMock:
		return NewMockEngine(cfg.Mock), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", tts.ErrEngineNotFound, cfg.Engine, strings.Join(Names, ", "))
	}
}

// Guidance returns setup instructions for an engine that failed to
// validate.
func Guidance(engine string) string {
	switch strings.ToLower(engine) {
	case NamePiper:
		return `Piper is not ready. To set it up:

1. Install the binary from https://github.com/rhasspy/piper/releases and put it on PATH.
2. Download a voice model and its .onnx.json config:
   https://github.com/rhasspy/piper/blob/master/VOICES.md
3. Map a friendly name to the model and select it:
   tts:
     voice_mappings:
       amy: ~/.local/share/piper/en_US-amy-medium.onnx
     voice_config: amy100

Try it by hand:
  echo "Hello chat" | piper --model /path/to/model.onnx --output-raw > /dev/null`
	case NameGTTS, "google":
		return `gTTS is not ready. It needs gtts-cli and ffmpeg on PATH:

  pipx install gtts
  sudo apt install ffmpeg   # or: brew install ffmpeg

gTTS requires an internet connection; no API key is needed.`
	default:
		return fmt.Sprintf("Supported engines: %s", strings.Join(Names, ", "))
	}
}
