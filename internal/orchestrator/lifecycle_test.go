package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestLifecycleHandleWritesStatusWithReason(t *testing.T) {
	fake := brokertest.New()
	l := NewLifecycleListener(fake, NewRunner(""))

	l.handle(context.Background(), types.StreamEndedEvent{SourceID: "network_camera", Reason: "user_stopped"})

	status, err := fake.ReadStatus(context.Background(), "network_camera")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "user_stopped")
}

func TestLifecycleHandleDefaultsMissingSourceID(t *testing.T) {
	fake := brokertest.New()
	l := NewLifecycleListener(fake, NewRunner(""))

	l.handle(context.Background(), types.StreamEndedEvent{Reason: "crash"})

	status, err := fake.ReadStatus(context.Background(), "network_camera")
	require.NoError(t, err)
	require.NotNil(t, status)
}
