package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// loggers tracks the prefixed loggers handed to components so a reloaded
// log_level reaches all of them.
var loggers struct {
	sync.Mutex
	all []*log.Logger
}

func setupLog() (func() error, error) {
	log.SetReportTimestamp(true)
	log.SetTimeFormat("15:04:05")
	if !term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec
		log.SetFormatter(log.LogfmtFormatter)
	}
	setLogLevel(viper.GetString("log_level"))

	path := viper.GetString("log_file")
	if path == "" {
		return func() error { return nil }, nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("unable to expand log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFormatter(log.LogfmtFormatter)
	return f.Close, nil
}

// newLogger returns a prefixed child of the default logger.
func newLogger(prefix string) *log.Logger {
	l := log.WithPrefix(prefix)
	loggers.Lock()
	loggers.all = append(loggers.all, l)
	loggers.Unlock()
	return l
}

func setLogLevel(s string) {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		log.Warn("Ignoring invalid log level", "level", s)
		return
	}
	log.SetLevel(lvl)

	loggers.Lock()
	defer loggers.Unlock()
	for _, l := range loggers.all {
		l.SetLevel(lvl)
	}
}
