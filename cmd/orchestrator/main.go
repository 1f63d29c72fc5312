// Command orchestrator runs the always-on scheduler, command dispatcher,
// lifecycle listener, config-change listener, and health monitor (spec
// §4.5–§4.9).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/orchestrator"
)

func main() {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Run the Sense Pulse orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(
				resource.NewSchemaless(attribute.String("service.name", "sense-pulse-orchestrator")),
			))
			otel.SetMeterProvider(meterProvider)
			defer meterProvider.Shutdown(context.Background())

			br, err := broker.New(ctx, config.GetRedisURL())
			if err != nil {
				return err
			}
			defer br.Close()

			app := orchestrator.NewApp(ctx, br)
			app.Run(ctx)
			return nil
		},
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
