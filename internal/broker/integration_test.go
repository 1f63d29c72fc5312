//go:build integration

package broker_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// These tests only run with `go test -tags integration` against a real
// Redis instance, mirroring the teacher's own
// internal/daemon/redis_wisp_store_integration_test.go split between a fast
// unit suite and an opt-in integration suite.

func mustBroker(t *testing.T) *broker.Broker {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := broker.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestIntegrationReadingsRoundTrip(t *testing.T) {
	b := mustBroker(t)
	ctx := context.Background()

	require.NoError(t, b.WriteReadings(ctx, "weather", []types.SensorReading{
		{SensorID: "temp_c", Value: 18.2, Timestamp: 123.0},
	}))

	readings, err := b.ReadSource(ctx, "weather")
	require.NoError(t, err)
	require.Len(t, readings, 1)
}

func TestIntegrationCallRoundTrip(t *testing.T) {
	b := mustBroker(t)
	ctx := context.Background()

	cmds, cancel, err := b.SubscribeCommands(ctx, "source-camera")
	require.NoError(t, err)
	defer cancel()

	go func() {
		cmd := <-cmds
		_ = b.PublishResponse(ctx, "source-camera", types.OK(cmd.RequestID, nil))
	}()

	resp, err := b.Call(ctx, "source-camera", "start", nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, resp.Status)
}

func TestIntegrationSeedConfigIsCompareAndSet(t *testing.T) {
	b := mustBroker(t)
	ctx := context.Background()

	section := "weather"
	_, _, _ = b.ReadConfig(ctx, section) // warm connection

	_, err := b.SeedConfig(ctx, section, types.ConfigSection{"units": "metric"})
	require.NoError(t, err)

	// Whatever the first call found, the key exists now, so a second seed
	// must leave it untouched.
	written, err := b.SeedConfig(ctx, section, types.ConfigSection{"units": "imperial"})
	require.NoError(t, err)
	require.False(t, written)
}
