// Command source-sensehat is a thin persistent source shim exercising
// internal/sourceworker's PersistentSource and ConfigAware contracts from a
// real binary. Its Poll body and command table are intentionally trivial
// stand-ins for the Sense HAT display/LED driving named out of scope; a
// full implementation would mirror sensehat/commands.py's "clear" and
// "set_rotation" actions against a real display.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/sourceworker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

const sourceID = "sensors"

type sensehatSource struct {
	rotation int
}

func (s *sensehatSource) SourceID() string { return sourceID }

func (s *sensehatSource) Metadata() types.SourceMetadata {
	return types.SourceMetadata{
		SourceID:        sourceID,
		Name:            "Sense HAT",
		Description:     "Onboard environmental sensors and display",
		RefreshInterval: 30,
		Enabled:         true,
	}
}

// Poll reports a single placeholder reading; a full implementation would
// read temperature/humidity/pressure off the physical Sense HAT board the
// way sensehat/source.py does.
func (s *sensehatSource) Poll(ctx context.Context, br broker.Interface) ([]types.SensorReading, error) {
	return []types.SensorReading{
		{SensorID: "sensehat_rotation", Value: s.rotation},
	}, nil
}

// HandleCommand implements the same two actions sensehat/commands.py's
// CommandHandler names, "clear" and "set_rotation", without driving a real
// display.
func (s *sensehatSource) HandleCommand(ctx context.Context, br broker.Interface, cmd types.Command) types.CommandResponse {
	switch cmd.Action {
	case "clear":
		return types.OK(cmd.RequestID, map[string]interface{}{"message": "Display cleared"})
	case "set_rotation":
		rotation, _ := cmd.Params["rotation"].(float64)
		switch int(rotation) {
		case 0, 90, 180, 270:
			s.rotation = int(rotation)
			return types.OK(cmd.RequestID, nil)
		default:
			return types.Err(cmd.RequestID, "Invalid rotation: must be 0, 90, 180, or 270")
		}
	default:
		return types.Err(cmd.RequestID, "Unknown action")
	}
}

// ConfigChanged is a no-op beyond logging; a full implementation would
// react to config:display the way display.py applies scroll speed and icon
// duration live.
func (s *sensehatSource) ConfigChanged(ctx context.Context, br broker.Interface, section string) {
	if section == types.SectionDisplay {
		log.Printf("source-sensehat: display config changed")
	}
}

var (
	_ sourceworker.PersistentSource = (*sensehatSource)(nil)
	_ sourceworker.ConfigAware      = (*sensehatSource)(nil)
)

func main() {
	root := &cobra.Command{
		Use:   "source-sensehat",
		Short: "Run the Sense HAT persistent source worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			br, err := broker.New(ctx, config.GetRedisURL())
			if err != nil {
				return err
			}
			defer br.Close()

			sourceworker.RunPersistent(ctx, br, &sensehatSource{}, 30*time.Second)
			return nil
		},
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
