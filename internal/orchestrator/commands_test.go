package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestDispatchUnknownAction(t *testing.T) {
	l := NewCommandListener(brokertest.New(), NewRunner(""))
	resp := l.dispatch(context.Background(), types.Command{Action: "nope", RequestID: "r1"})
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Unknown action")
}

func TestDispatchTriggerRequiresServiceParam(t *testing.T) {
	l := NewCommandListener(brokertest.New(), NewRunner(""))
	resp := l.dispatch(context.Background(), types.Command{Action: "trigger", RequestID: "r2"})
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, "Missing 'service' parameter", resp.Error)
}

func TestDispatchRestartServiceRequiresServiceParam(t *testing.T) {
	l := NewCommandListener(brokertest.New(), NewRunner(""))
	resp := l.dispatch(context.Background(), types.Command{Action: "restart_service", RequestID: "r3"})
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, "Missing 'service' parameter", resp.Error)
}

func TestHandleStopCameraPublishesStopToCamera(t *testing.T) {
	fake := brokertest.New()
	l := NewCommandListener(fake, NewRunner(""))

	ctx := context.Background()
	cmds, unsub, err := fake.SubscribeCommands(ctx, "network_camera")
	require.NoError(t, err)
	defer unsub()

	resp := l.dispatch(ctx, types.Command{Action: "stop_camera", RequestID: "r4"})
	assert.Equal(t, types.StatusOK, resp.Status)

	select {
	case cmd := <-cmds:
		assert.Equal(t, "stop", cmd.Action)
	default:
		t.Fatal("expected a stop command published to network_camera")
	}
}

func TestHandleStartCameraSuccess(t *testing.T) {
	runner := newFakeRunner()
	l := NewCommandListener(brokertest.New(), runner)

	resp := l.dispatch(context.Background(), types.Command{Action: "start_camera", RequestID: "r5"})

	assert.Equal(t, types.StatusOK, resp.Status)
	assert.Equal(t, []string{"source-camera"}, runner.startCalls)
}

func TestHandleTriggerSuccess(t *testing.T) {
	runner := newFakeRunner()
	l := NewCommandListener(brokertest.New(), runner)

	resp := l.dispatch(context.Background(), types.Command{
		Action:    "trigger",
		RequestID: "r6",
		Params:    map[string]interface{}{"service": "source-pihole"},
	})

	assert.Equal(t, types.StatusOK, resp.Status)
	require.Len(t, runner.ephemeralCalls, 1)
	assert.Equal(t, "source-pihole", runner.ephemeralCalls[0].service)
}

func TestHandleScanAranet4Success(t *testing.T) {
	fake := brokertest.New()
	runner := newFakeRunner()
	l := NewCommandListener(fake, runner)

	devices := []types.Aranet4Device{{Label: "study", MAC: "AA:BB"}}
	require.NoError(t, fake.WriteScan(context.Background(), "co2", devices))

	resp := l.dispatch(context.Background(), types.Command{Action: "scan_aranet4", RequestID: "r7"})

	assert.Equal(t, types.StatusOK, resp.Status)
	require.Len(t, runner.ephemeralCalls, 1)
	assert.Equal(t, "source-aranet4", runner.ephemeralCalls[0].service)
	assert.Equal(t, "scan", runner.ephemeralCalls[0].env["MODE"])
	assert.Len(t, resp.Data["devices"], 1)
}

func TestHandleDiscoverCamerasSuccess(t *testing.T) {
	fake := brokertest.New()
	runner := newFakeRunner()
	l := NewCommandListener(fake, runner)

	cameras := []types.DiscoveredCamera{{Name: "cam0", Host: "192.168.1.50"}}
	require.NoError(t, fake.WriteScan(context.Background(), "network_camera", cameras))

	resp := l.dispatch(context.Background(), types.Command{Action: "discover_cameras", RequestID: "r8"})

	assert.Equal(t, types.StatusOK, resp.Status)
	require.Len(t, runner.ephemeralCalls, 1)
	assert.Equal(t, "source-camera", runner.ephemeralCalls[0].service)
	assert.Equal(t, "discover", runner.ephemeralCalls[0].env["MODE"])
	assert.Len(t, resp.Data["cameras"], 1)
}

func TestHandleRestartServiceSuccess(t *testing.T) {
	runner := newFakeRunner()
	l := NewCommandListener(brokertest.New(), runner)

	resp := l.dispatch(context.Background(), types.Command{
		Action:    "restart_service",
		RequestID: "r9",
		Params:    map[string]interface{}{"service": "source-camera"},
	})

	assert.Equal(t, types.StatusOK, resp.Status)
	assert.Equal(t, []string{"source-camera"}, runner.stopCalls)
	assert.Equal(t, []string{"source-camera"}, runner.startCalls)
}
