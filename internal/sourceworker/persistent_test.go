package sourceworker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/sourceworker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

type mockPersistent struct {
	id        string
	pollCount int32
}

func (m *mockPersistent) SourceID() string              { return m.id }
func (m *mockPersistent) Metadata() types.SourceMetadata { return types.SourceMetadata{SourceID: m.id} }
func (m *mockPersistent) Poll(context.Context, broker.Interface) ([]types.SensorReading, error) {
	atomic.AddInt32(&m.pollCount, 1)
	return []types.SensorReading{{SensorID: "value", Value: 1.0}}, nil
}
func (m *mockPersistent) HandleCommand(_ context.Context, _ broker.Interface, cmd types.Command) types.CommandResponse {
	if cmd.Action == "boom" {
		panic("simulated hook failure")
	}
	return types.OK(cmd.RequestID, map[string]interface{}{"action": cmd.Action})
}

func TestRunPersistentPollsOnInterval(t *testing.T) {
	src := &mockPersistent{id: "sensehat"}
	fake := brokertest.New()
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	sourceworker.RunPersistent(ctx, fake, src, 10*time.Millisecond)

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&src.pollCount)), 2)
}

func TestRunPersistentCommandRoundTrip(t *testing.T) {
	src := &mockPersistent{id: "sensehat"}
	fake := brokertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sourceworker.RunPersistent(ctx, fake, src, time.Hour)
		close(done)
	}()

	resp, err := fake.Call(ctx, "sensehat", "ping", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, resp.Status)
	assert.Equal(t, "ping", resp.Data["action"])

	cancel()
	<-done
}

func TestRunPersistentCommandHookPanicYieldsErrorResponse(t *testing.T) {
	src := &mockPersistent{id: "sensehat"}
	fake := brokertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sourceworker.RunPersistent(ctx, fake, src, time.Hour)
		close(done)
	}()

	resp, err := fake.Call(ctx, "sensehat", "boom", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, resp.Status)

	cancel()
	<-done
}
