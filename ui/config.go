package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	// Server is the streamtts API address shown in the header.
	Server string

	// RefreshInterval paces the message list refresh and, when the
	// websocket feed is unavailable, stats polling.
	RefreshInterval time.Duration `env:"STREAMTTS_WATCH_REFRESH" envDefault:"2s"`
	// Limit caps the recent messages shown.
	Limit       int  `env:"STREAMTTS_WATCH_LIMIT" envDefault:"10"`
	EnableMouse bool `env:"STREAMTTS_WATCH_MOUSE"`
	// NoFeed forces polling instead of the websocket feed.
	NoFeed bool `env:"STREAMTTS_WATCH_NO_FEED"`
}
