package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker/brokertest"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

func TestHandleCommandRejectsUnknownTarget(t *testing.T) {
	s := New(brokertest.New(), t.TempDir())
	req := httptest.NewRequest(http.MethodPost, "/api/command/not-a-target", strings.NewReader(`{"action":"x"}`))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCommandRoundTripsThroughBroker(t *testing.T) {
	fake := brokertest.New()
	s := New(fake, t.TempDir())

	go func() {
		cmds, cancel, err := fake.SubscribeCommands(context.Background(), "orchestrator")
		require.NoError(t, err)
		defer cancel()
		cmd := <-cmds
		_ = fake.PublishResponse(context.Background(), "orchestrator", types.OK(cmd.RequestID, map[string]interface{}{"ok": true}))
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/command/orchestrator", strings.NewReader(`{"action":"trigger","params":{"service":"source-weather"}}`))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleCommandTimesOutWithNoResponder(t *testing.T) {
	fake := brokertest.New()
	s := New(fake, t.TempDir())

	req := httptest.NewRequest(http.MethodPost, "/api/command/sensors", strings.NewReader(`{"action":"noop"}`))
	rec := httptest.NewRecorder()

	start := time.Now()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestHandleCommandUsesActionSpecificTimeout(t *testing.T) {
	fake := brokertest.New()
	s := New(fake, t.TempDir())

	go func() {
		cmds, cancel, err := fake.SubscribeCommands(context.Background(), "orchestrator")
		require.NoError(t, err)
		defer cancel()
		cmd := <-cmds
		time.Sleep(6 * time.Second)
		_ = fake.PublishResponse(context.Background(), "orchestrator", types.OK(cmd.RequestID, map[string]interface{}{"devices": []string{}}))
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/command/orchestrator", strings.NewReader(`{"action":"scan_aranet4"}`))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleStreamBlocksPathTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream.m3u8"), []byte("#EXTM3U"), 0o644))

	secretDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "secret.m3u8"), []byte("nope"), 0o644))

	s := New(brokertest.New(), dir)
	req := httptest.NewRequest(http.MethodGet, "/api/stream/"+"..%2F..%2Fsecret.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.NotEqual(t, "nope", rec.Body.String())
}

func TestHandleStreamServesPlaylist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream.m3u8"), []byte("#EXTM3U"), 0o644))

	s := New(brokertest.New(), dir)
	req := httptest.NewRequest(http.MethodGet, "/api/stream/stream.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#EXTM3U", rec.Body.String())
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
}

func TestHandleStreamReturnsServiceUnavailableForMissingPlaylist(t *testing.T) {
	s := New(brokertest.New(), t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/api/stream/stream.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestHandleStreamServesSegmentWithMediaType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment0.ts"), []byte("binary-ts-data"), 0o644))

	s := New(brokertest.New(), dir)
	req := httptest.NewRequest(http.MethodGet, "/api/stream/segment0.ts", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
}

func TestHandleStreamReturnsNotFoundForMissingSegment(t *testing.T) {
	s := New(brokertest.New(), t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/api/stream/segment0.ts", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStreamRejectsNonHLSExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "passwd.txt"), []byte("secret"), 0o644))

	s := New(brokertest.New(), dir)
	req := httptest.NewRequest(http.MethodGet, "/api/stream/passwd.txt", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
