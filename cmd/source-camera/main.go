// Command source-camera runs the streaming camera worker, or its
// discover/scan mode when MODE=discover is set (spec §4.4.7).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/camera"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "source-camera",
		Short: "Run the network camera worker, or scan for cameras with MODE=discover",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			br, err := broker.New(ctx, config.GetRedisURL())
			if err != nil {
				return err
			}
			defer br.Close()

			viper.AutomaticEnv()
			if viper.GetString("MODE") == "discover" {
				return runDiscover(ctx, br)
			}
			return runWorker(ctx, br)
		},
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// discoverBudget bounds the whole network sweep in discover mode.
const discoverBudget = 15 * time.Second

// runDiscover scans the local network for RTSP-speaking hosts and writes
// the result to scan:network_camera (spec §4.4.7), then exits.
func runDiscover(ctx context.Context, br broker.Interface) error {
	found, err := camera.Discover(ctx, discoverBudget)
	if err != nil {
		return err
	}
	return br.WriteScan(ctx, "network_camera", found)
}

// runWorker builds the camera Config from the environment and runs the
// persistent streaming worker until signaled.
func runWorker(ctx context.Context, br broker.Interface) error {
	viper.SetDefault("CAMERA_TRANSPORT", "tcp")
	viper.SetDefault("CAMERA_PORT", 554)
	viper.SetDefault("CAMERA_OUTPUT_DIR", "/tmp/sense-pulse/stream")
	viper.SetDefault("CAMERA_PTZ_STEP", 0.05)
	viper.SetDefault("CAMERA_PTZ_ZOOM_STEP", 0.1)

	cfg := camera.Config{
		Host:        viper.GetString("CAMERA_HOST"),
		Port:        viper.GetInt("CAMERA_PORT"),
		Username:    viper.GetString("CAMERA_USERNAME"),
		Password:    viper.GetString("CAMERA_PASSWORD"),
		StreamPath:  viper.GetString("CAMERA_STREAM_PATH"),
		Transport:   viper.GetString("CAMERA_TRANSPORT"),
		PTZEnabled:  viper.GetBool("CAMERA_PTZ_ENABLED"),
		ONVIFPort:   viper.GetInt("CAMERA_ONVIF_PORT"),
		PTZStep:     viper.GetFloat64("CAMERA_PTZ_STEP"),
		PTZZoomStep: viper.GetFloat64("CAMERA_PTZ_ZOOM_STEP"),
	}
	opts := camera.DefaultStreamOptions(viper.GetString("CAMERA_OUTPUT_DIR"))

	worker := camera.NewWorker(cfg, opts, camera.NewPTZController())
	if err := br.WriteMetadata(ctx, camera.SourceID, worker.Metadata()); err != nil {
		log.Printf("source-camera: write metadata: %v", err)
	}
	worker.Run(ctx, br)
	return nil
}
