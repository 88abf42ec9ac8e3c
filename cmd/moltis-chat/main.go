package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagURL      string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "moltis-chat",
		Short: "Terminal client for a moltis gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if flagURL != "" {
				cfg.Gateway.URL = flagURL
			}
			if flagLogLevel != "" {
				cfg.Log.Level = flagLogLevel
			}
			level, err := zerolog.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to yaml config file")
	root.PersistentFlags().StringVar(&flagURL, "url", "", "gateway websocket URL")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace..error)")

	root.AddCommand(newSessionsCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newForkCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newLoginCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
