package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/streamtts/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch and control the queues in a terminal UI",
	Long: paragraph(fmt.Sprintf("\n%s live queue stats and recent messages. Switch queues, clear, toggle autoplay and play messages from the keyboard.", keyword("Watch"))),
	Args: cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		// Read environment to get refresh and feed settings
		cfg, err := env.ParseAs[ui.Config]()
		if err != nil {
			return fmt.Errorf("error parsing config: %v", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		cfg.Server = c.URL("")

		if _, err := ui.NewProgram(cfg, c).Run(); err != nil {
			return fmt.Errorf("unable to run tui program: %w", err)
		}
		return nil
	},
}
