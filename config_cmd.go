package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# HTTP API listen address
server:
  host: "127.0.0.1"
  port: 8008

# SQLite database and audio artifact directory (default: the user data dir)
# database: "~/.local/share/streamtts/streamtts.db"
# audio_dir: "~/.local/share/streamtts/audio"

worker:
  # idle wait between empty iterations
  poll_interval: "1s"
  # multiplies poll_interval after an unexpected error
  backoff_factor: 5

queue:
  # READY audio budget of the mentions lane, in bytes
  mentions_max_bytes: 209715200

autoplay:
  # pause after each autoplayed message
  cooldown: "10s"

tts:
  # engine: piper, gtts or mock
  engine: "piper"
  # playback speed (0.25 to 4.0)
  speed: 0.85
  # language code used by gtts
  lang_code: "en"
  # voice mix, e.g. am_adam50_am_michael50 (the heaviest voice is used)
  voice_config: "am_adam50_am_michael50"
  # friendly voice names mapped to piper .onnx models
  # voice_mappings:
  #   am_adam: "~/.local/share/streamtts/voices/en_US-ryan-medium.onnx"
  #   am_michael: "~/.local/share/streamtts/voices/en_US-joe-medium.onnx"
  # default_voice: "am_adam"
  timeout: "30s"

  piper:
    binary: "piper"
    # speaker: "0"

  gtts:
    slow: false
    requests_per_minute: 50

  cache:
    enabled: true
    # dir: "~/.local/share/streamtts/cache"
    max_bytes: 104857600
    # zstd level, -1 disables compression
    compression_level: 3

api:
  # add_message requests per second and burst
  rate_limit: 10
  burst: 20

# debug, info, warn or error
log_level: "info"
# log_file: "~/.local/state/streamtts/streamtts.log"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the streamtts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the streamtts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("streamtts config\nstreamtts config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("streamtts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
