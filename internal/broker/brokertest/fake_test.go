package brokertest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestFakeWriteReadReadings(t *testing.T) {
	f := brokertest.New()
	ctx := context.Background()

	err := f.WriteReadings(ctx, "weather", []types.SensorReading{
		{SensorID: "temp_c", Value: 21.5, Timestamp: 100},
	})
	require.NoError(t, err)

	out, err := f.ReadSource(ctx, "weather")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "temp_c", out[0].SensorID)
	assert.Equal(t, 21.5, out[0].Value)
}

func TestFakeStatusExpiry(t *testing.T) {
	f := brokertest.New()
	ctx := context.Background()

	require.NoError(t, f.WriteStatus(ctx, "pihole", types.SourceStatus{SourceID: "pihole", PollCount: 1}))

	status, err := f.ReadStatus(ctx, "pihole")
	require.NoError(t, err)
	assert.Equal(t, 1, status.PollCount)

	f.Expire("pihole")
	_, err = f.ReadStatus(ctx, "pihole")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestFakeSeedConfigIsIdempotent(t *testing.T) {
	f := brokertest.New()
	ctx := context.Background()

	written, err := f.SeedConfig(ctx, types.SectionWeather, types.ConfigSection{"units": "metric"})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = f.SeedConfig(ctx, types.SectionWeather, types.ConfigSection{"units": "imperial"})
	require.NoError(t, err)
	assert.False(t, written)

	cfg, ok, err := f.ReadConfig(ctx, types.SectionWeather)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "metric", cfg["units"])
}

func TestFakeCallRoundTrip(t *testing.T) {
	f := brokertest.New()
	ctx := context.Background()

	cmds, cancel, err := f.SubscribeCommands(ctx, "source-camera")
	require.NoError(t, err)
	defer cancel()

	go func() {
		cmd := <-cmds
		_ = f.PublishResponse(ctx, "source-camera", types.OK(cmd.RequestID, map[string]interface{}{"state": "streaming"}))
	}()

	resp, err := f.Call(ctx, "source-camera", "start", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, resp.Status)
	assert.Equal(t, "streaming", resp.Data["state"])
}

func TestFakeCallTimesOutWithNoResponder(t *testing.T) {
	f := brokertest.New()
	ctx := context.Background()

	_, err := f.Call(ctx, "source-camera", "start", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, broker.ErrResponseTimeout)
}
