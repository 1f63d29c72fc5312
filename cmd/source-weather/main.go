// Command source-weather is a thin ephemeral source shim exercising
// internal/sourceworker's EphemeralSource contract from a real binary. Its
// Poll body is intentionally a stand-in for the wttr.in parsing named out
// of scope; a full implementation would read config:weather's location and
// call out to a weather API the way weather/source.py's WeatherSource does.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/sourceworker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

const sourceID = "weather"

type weatherSource struct{}

func (weatherSource) SourceID() string { return sourceID }

func (weatherSource) Metadata() types.SourceMetadata {
	return types.SourceMetadata{
		SourceID:        sourceID,
		Name:            "Weather",
		Description:     "Current weather conditions",
		RefreshInterval: 300,
		Enabled:         true,
	}
}

// Poll reads config:weather's location and reports it as a single
// placeholder reading; a production poll would fan out to a weather API
// the way the original source parses 26 fields from wttr.in's response.
func (weatherSource) Poll(ctx context.Context, br broker.Interface) ([]types.SensorReading, error) {
	section, ok, err := br.ReadConfig(ctx, types.SectionWeather)
	if err != nil {
		return nil, err
	}
	location := ""
	if ok {
		if v, ok := section["location"].(string); ok {
			location = v
		}
	}
	if location == "" {
		log.Printf("source-weather: no location configured, skipping poll")
		return nil, nil
	}
	return []types.SensorReading{
		{SensorID: "weather_location", Value: location},
	}, nil
}

var _ sourceworker.EphemeralSource = weatherSource{}

func main() {
	root := &cobra.Command{
		Use:   "source-weather",
		Short: "Poll weather conditions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			br, err := broker.New(ctx, config.GetRedisURL())
			if err != nil {
				return err
			}
			defer br.Close()

			return sourceworker.RunEphemeral(ctx, br, weatherSource{})
		},
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
