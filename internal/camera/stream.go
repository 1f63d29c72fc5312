package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StreamManager owns the transcoder child process and drives the state
// machine of spec §4.4.1 through §4.4.4. One StreamManager exists per
// camera worker process.
type StreamManager struct {
	cfg  Config
	opts StreamOptions

	mu                sync.Mutex
	proc              *transcoder
	state             State
	startedAt         time.Time
	errorMessage      string
	reconnectAttempts int
}

// NewStreamManager constructs a StreamManager in the STOPPED state.
func NewStreamManager(cfg Config, opts StreamOptions) *StreamManager {
	return &StreamManager{cfg: cfg, opts: opts, state: StateStopped}
}

// State returns the current state under lock.
func (m *StreamManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *StreamManager) playlistPath() string {
	return filepath.Join(m.opts.OutputDir, "stream.m3u8")
}

// Start transitions STOPPED → STARTING → STREAMING|ERROR, spawning the
// transcoder (spec §4.4.1 row 1–3). It is idempotent: calling Start while
// already running is a no-op success.
func (m *StreamManager) Start(ctx context.Context, logPrefix string) error {
	m.mu.Lock()
	if m.proc != nil && !m.proc.exited() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := prepareOutputDir(m.opts.OutputDir); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateStarting
	m.startedAt = time.Now()
	m.errorMessage = ""
	m.mu.Unlock()

	proc, err := spawnTranscoder(ctx, m.cfg, m.opts, logPrefix)
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.errorMessage = err.Error()
		m.mu.Unlock()
		return err
	}

	// Brief wait for startup, then judge whether ffmpeg is still alive —
	// spec §4.4.1's "alive ≥ 2s and has not exited" transition.
	time.Sleep(2 * time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()
	if proc.exited() {
		m.state = StateError
		m.errorMessage = "ffmpeg failed to start"
		m.proc = nil
		return fmt.Errorf("camera: %s", m.errorMessage)
	}
	m.proc = proc
	m.state = StateStreaming
	m.reconnectAttempts = 0
	return nil
}

// Stop kills the transcoder and cleans segments (spec §4.4.6 "stop").
func (m *StreamManager) Stop() {
	m.mu.Lock()
	proc := m.proc
	m.proc = nil
	m.state = StateStopped
	m.mu.Unlock()

	if proc == nil {
		return
	}
	proc.terminate()
	waitForExit(proc, 5*time.Second)
	_ = cleanupSegments(m.opts.OutputDir)
}

// waitForExit polls until proc exits or the grace period lapses, then
// sends SIGKILL if it's still alive (spec §5's terminate/kill policy).
func waitForExit(proc *transcoder, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if proc.exited() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !proc.exited() {
		proc.kill()
	}
}

// Restart stops then starts the transcoder (spec §4.4.6 "restart").
func (m *StreamManager) Restart(ctx context.Context, logPrefix string) error {
	m.Stop()
	return m.Start(ctx, logPrefix)
}

// Tick performs one health-monitor evaluation (spec §4.4.3), intended to be
// called on a 2 s cadence by the caller while state is STREAMING or
// RECONNECTING. It returns true if a reconnect cycle should be scheduled by
// the caller and the delay to wait before respawning.
func (m *StreamManager) Tick(logPrefix string) (reconnect bool, delay time.Duration) {
	m.mu.Lock()
	state := m.state
	proc := m.proc
	m.mu.Unlock()

	if state != StateStreaming && state != StateReconnecting {
		return false, 0
	}

	if proc != nil && proc.exited() {
		return m.enterReconnect(logPrefix)
	}

	if m.playlistStale() {
		m.mu.Lock()
		m.state = StateError
		m.mu.Unlock()
		if proc != nil {
			proc.terminate()
		}
		return m.enterReconnect(logPrefix)
	}

	m.mu.Lock()
	if m.state != StateStreaming {
		m.state = StateStreaming
		m.reconnectAttempts = 0
	}
	m.mu.Unlock()
	return false, 0
}

func (m *StreamManager) playlistStale() bool {
	info, err := os.Stat(m.playlistPath())
	if err != nil {
		return false
	}
	age := time.Since(info.ModTime())
	return age.Seconds() > m.opts.StaleThreshold
}

// enterReconnect implements spec §4.4.4: increment attempt counter, give up
// permanently past the configured maximum, otherwise report the next
// backoff delay for the caller to wait out before respawning.
func (m *StreamManager) enterReconnect(logPrefix string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectAttempts++
	m.state = StateReconnecting

	if m.opts.MaxReconnectAttempts != -1 && m.reconnectAttempts > m.opts.MaxReconnectAttempts {
		m.state = StateError
		m.errorMessage = "max reconnect attempts exceeded"
		return false, 0
	}

	delaySeconds := reconnectDelay(m.opts.ReconnectBaseDelay, m.reconnectAttempts)
	return true, time.Duration(delaySeconds * float64(time.Second))
}

// reconnectDelay computes min(base · 2^(n-1), 60) per spec §4.4.4 and §8's
// boundary test (attempt 4 base 5 → 40 s; attempt 7 → clamped to 60 s).
func reconnectDelay(base float64, attempt int) float64 {
	d := base * pow2(attempt-1)
	if d > 60 {
		return 60
	}
	return d
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// Reconnect respawns the transcoder after a reconnect cycle's delay has
// elapsed. Returns to STREAMING on success (resetting the attempt counter
// happens on the next successful Tick) or stays in RECONNECTING/ERROR.
func (m *StreamManager) Reconnect(ctx context.Context, logPrefix string) error {
	proc, err := spawnTranscoder(ctx, m.cfg, m.opts, logPrefix)
	if err != nil {
		m.mu.Lock()
		m.errorMessage = err.Error()
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.proc = proc
	m.mu.Unlock()
	return nil
}

// Status returns the six-reading snapshot of spec §4.4.5.
type Status struct {
	State      State
	Connected  bool
	Error      string
	Resolution string
	FPS        int
	Uptime     float64
}

func (m *StreamManager) Status() Status {
	m.mu.Lock()
	state := m.state
	errMsg := m.errorMessage
	proc := m.proc
	startedAt := m.startedAt
	m.mu.Unlock()

	st := Status{State: state, Error: errMsg}
	st.Connected = state == StateStreaming
	if proc != nil {
		if res := proc.resolution.Load(); res != nil {
			st.Resolution = *res
		}
		st.FPS = int(proc.fps.Load())
	}
	if !startedAt.IsZero() {
		st.Uptime = roundTenth(time.Since(startedAt).Seconds())
	}
	return st
}

func roundTenth(seconds float64) float64 {
	return float64(int(seconds*10+0.5)) / 10
}
