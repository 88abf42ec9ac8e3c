// moltis-gateway-sim serves the fixture gateway over a websocket endpoint so
// the chat client can be exercised without a real agent backend.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhubby/moltis-sub001/pkg/gatewaysim"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

func main() {
	var addr string
	var tickInterval time.Duration

	root := &cobra.Command{
		Use:   "moltis-gateway-sim",
		Short: "Fixture gateway simulator for the moltis chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			sim := gatewaysim.New()
			defer sim.Close()
			gatewaysim.InstallFixtures(sim)

			if tickInterval > 0 {
				go func() {
					ticker := time.NewTicker(tickInterval)
					defer ticker.Stop()
					for now := range ticker.C {
						sim.Publish(protocol.TopicTick, map[string]any{"now": now.UnixMilli()})
					}
				}()
			}

			mux := http.NewServeMux()
			mux.Handle("/ws", sim)
			log.Info().Str("component", "gateway-sim").Str("addr", addr).Msg("listening")
			return http.ListenAndServe(addr, mux)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:18789", "listen address")
	root.Flags().DurationVar(&tickInterval, "tick-interval", 30*time.Second, "interval between tick push events (0 disables)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
