// Command gateway exposes the broker fleet over HTTP: command bridging,
// HLS segment serving, and a WebSocket push hub for live readings (spec
// §4.10, §6.4).
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/gateway"
)

// pushSourceIDs lists the fleet's data-producing sources the WebSocket hub
// fans data:* notifications out for; mirrors defaultIntervals in
// internal/orchestrator/health.go plus the camera and sensor sources.
var pushSourceIDs = []string{"tailscale", "pihole", "system", "co2", "weather", "sensors", "network_camera"}

const shutdownGrace = 5 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Run the Sense Pulse HTTP/WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			br, err := broker.New(ctx, config.GetRedisURL())
			if err != nil {
				return err
			}
			defer br.Close()

			viper.AutomaticEnv()
			viper.SetDefault("GATEWAY_STREAM_DIR", "/tmp/sense-pulse/stream")
			viper.SetDefault("GATEWAY_ADDR", ":8080")

			srv := gateway.New(br, viper.GetString("GATEWAY_STREAM_DIR"))
			srv.Hub().Pump(ctx, pushSourceIDs)

			httpServer := &http.Server{
				Addr:    viper.GetString("GATEWAY_ADDR"),
				Handler: srv.Mux(),
			}

			errCh := make(chan error, 1)
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer shutdownCancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
