package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
)

func TestHubBroadcastsDataNotificationToConnectedClient(t *testing.T) {
	fake := brokertest.New()
	hub := NewHub(fake)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Pump(ctx, []string{"weather"})

	// Give pumpOne time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, fake.PublishData(ctx, "weather"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"source_id":"weather"`)
}
