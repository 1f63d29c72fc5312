package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestSeedAllConfigAlwaysSeedsSchedule(t *testing.T) {
	t.Setenv("WEATHER_LOCATION", "")
	fake := brokertest.New()
	seeded := SeedAllConfig(context.Background(), fake)
	assert.Contains(t, seeded, types.SectionSchedule)

	section, ok, err := fake.ReadConfig(context.Background(), types.SectionSchedule)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, section["pihole"])
	assert.Equal(t, 300, section["weather"])
}

func TestSeedAllConfigIsCompareAndSet(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()

	first := SeedAllConfig(ctx, fake)
	assert.Contains(t, first, types.SectionSchedule)

	require.NoError(t, fake.WriteConfig(ctx, types.SectionSchedule, types.ConfigSection{"pihole": 999}))

	second := SeedAllConfig(ctx, fake)
	assert.NotContains(t, second, types.SectionSchedule)

	section, ok, err := fake.ReadConfig(ctx, types.SectionSchedule)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 999, section["pihole"])
}

func TestSeedAllConfigWeatherOnlyWhenLocationSet(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()

	t.Setenv("WEATHER_LOCATION", "")
	assert.NotContains(t, SeedAllConfig(ctx, fake), types.SectionWeather)

	t.Setenv("WEATHER_LOCATION", "Seattle,WA")
	seeded := SeedAllConfig(ctx, fake)
	assert.Contains(t, seeded, types.SectionWeather)

	section, ok, err := fake.ReadConfig(ctx, types.SectionWeather)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Seattle,WA", section["location"])
}
