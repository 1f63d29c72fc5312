package camera

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestHandleCommandUnknownAction(t *testing.T) {
	w := NewWorker(Config{}, DefaultStreamOptions(t.TempDir()), NewPTZController())
	fake := brokertest.New()

	resp := w.HandleCommand(context.Background(), fake, types.Command{Action: "whatever", RequestID: "r1"})
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, "Unknown action", resp.Error)
}

func TestHandleCommandPTZMoveRequiresEnabled(t *testing.T) {
	w := NewWorker(Config{PTZEnabled: false}, DefaultStreamOptions(t.TempDir()), NewPTZController())
	fake := brokertest.New()

	resp := w.HandleCommand(context.Background(), fake, types.Command{
		Action:    "ptz_move",
		RequestID: "r2",
		Params:    map[string]interface{}{"direction": "up"},
	})
	assert.Equal(t, types.StatusError, resp.Status)
}

func TestHandleCommandPTZMoveUnknownDirection(t *testing.T) {
	w := NewWorker(Config{PTZEnabled: true, PTZStep: 0.05, PTZZoomStep: 0.1}, DefaultStreamOptions(t.TempDir()), NewPTZController())
	fake := brokertest.New()

	resp := w.HandleCommand(context.Background(), fake, types.Command{
		Action:    "ptz_move",
		RequestID: "r3",
		Params:    map[string]interface{}{"direction": "diagonal"},
	})
	assert.Equal(t, types.StatusError, resp.Status)
}

func TestPollReturnsSixReadings(t *testing.T) {
	w := NewWorker(Config{}, DefaultStreamOptions(t.TempDir()), NewPTZController())
	fake := brokertest.New()

	readings, err := w.Poll(context.Background(), fake)
	require.NoError(t, err)
	assert.Len(t, readings, 6)
}

func TestAfterCommandStopPublishesStreamEndedAndCancels(t *testing.T) {
	w := NewWorker(Config{}, DefaultStreamOptions(t.TempDir()), NewPTZController())
	fake := brokertest.New()

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.healthStop = make(chan struct{})

	events, unsub, err := fake.SubscribeStreamEnded(ctx)
	require.NoError(t, err)
	defer unsub()

	resp := types.OK("r4", nil)
	w.AfterCommand(ctx, fake, types.Command{Action: "stop", RequestID: "r4"}, resp)

	select {
	case evt := <-events:
		assert.Equal(t, SourceID, evt.SourceID)
		assert.Equal(t, "user_stopped", evt.Reason)
	default:
		t.Fatal("expected a stream:ended event")
	}
	assert.Error(t, ctx.Err())
}
