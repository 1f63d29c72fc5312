package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/sourceworker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// SourceID is the fixed broker identity of the streaming camera worker
// (spec §4.4, channel/key examples throughout use "network_camera").
const SourceID = "network_camera"

// Worker wires a StreamManager and PTZController into the PersistentSource
// contract (spec §4.3), with a specialised command handler (spec §4.4.6)
// replacing generic per-source command semantics. Its Poll implements the
// 5-second reading-publication cadence of spec §4.4.5, reusing
// sourceworker.RunPersistent's poll task as that cadence's driver.
type Worker struct {
	cfg  Config
	opts StreamOptions

	stream *StreamManager
	ptz    PTZController
	ptzMu  sync.Mutex

	cancel     context.CancelFunc
	healthStop chan struct{}
}

// NewWorker constructs a camera Worker ready to run under
// sourceworker.RunPersistent.
func NewWorker(cfg Config, opts StreamOptions, ptz PTZController) *Worker {
	return &Worker{
		cfg:    cfg,
		opts:   opts,
		stream: NewStreamManager(cfg, opts),
		ptz:    ptz,
	}
}

var _ sourceworker.PersistentSource = (*Worker)(nil)
var _ sourceworker.PostCommandHook = (*Worker)(nil)

func (w *Worker) SourceID() string { return SourceID }

func (w *Worker) Metadata() types.SourceMetadata {
	return types.SourceMetadata{
		SourceID:        SourceID,
		Name:            "Network Camera",
		Description:     "RTSP to HLS streaming camera",
		RefreshInterval: 5,
		Enabled:         true,
	}
}

// Run starts the health monitor alongside sourceworker.RunPersistent and
// begins streaming immediately (spec §4.4.1: worker boot starts STARTING).
func (w *Worker) Run(ctx context.Context, br broker.Interface) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()

	w.healthStop = make(chan struct{})
	go w.runHealthMonitor(ctx)

	if err := w.stream.Start(ctx, SourceID); err != nil {
		// A failed initial start leaves the worker in ERROR; a later
		// `start`/`restart` command can still recover it.
		_ = err
	}

	sourceworker.RunPersistent(ctx, br, w, 5*time.Second)
}

// runHealthMonitor ticks every 2s while STREAMING/RECONNECTING (spec §4.4.3).
func (w *Worker) runHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.opts.HealthTickInterval * float64(time.Second)))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.healthStop:
			return
		case <-ticker.C:
			reconnect, delay := w.stream.Tick(SourceID)
			if reconnect {
				go w.runReconnect(ctx, delay)
			}
		}
	}
}

func (w *Worker) runReconnect(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if w.stream.State() != StateReconnecting {
		return
	}
	_ = w.stream.Reconnect(ctx, SourceID)
}

// Poll returns the six stream readings of spec §4.4.5. RunPersistent's poll
// task calls this every 5 seconds, which is exactly the cadence spec
// §4.4.5 names.
func (w *Worker) Poll(ctx context.Context, br broker.Interface) ([]types.SensorReading, error) {
	status := w.stream.Status()
	empty := ""
	seconds := "s"
	return []types.SensorReading{
		{SensorID: "stream_status", Value: string(status.State)},
		{SensorID: "stream_connected", Value: status.Connected},
		{SensorID: "stream_error", Value: status.Error},
		{SensorID: "stream_resolution", Value: status.Resolution, Unit: &empty},
		{SensorID: "stream_fps", Value: status.FPS},
		{SensorID: "stream_uptime", Value: status.Uptime, Unit: &seconds},
	}, nil
}

// HandleCommand implements spec §4.4.6's command table.
func (w *Worker) HandleCommand(ctx context.Context, br broker.Interface, cmd types.Command) types.CommandResponse {
	switch cmd.Action {
	case "start":
		if err := w.stream.Start(ctx, SourceID); err != nil {
			return types.Err(cmd.RequestID, err.Error())
		}
		return types.OK(cmd.RequestID, statusData(w.stream.Status()))
	case "stop":
		// Response is published before AfterCommand cancels the run
		// context (sourceworker.PostCommandHook's ordering guarantee).
		return types.OK(cmd.RequestID, nil)
	case "restart":
		if err := w.stream.Restart(ctx, SourceID); err != nil {
			return types.Err(cmd.RequestID, err.Error())
		}
		return types.OK(cmd.RequestID, statusData(w.stream.Status()))
	case "ptz_move":
		return w.handlePTZMove(ctx, cmd)
	default:
		return types.Err(cmd.RequestID, "Unknown action")
	}
}

func (w *Worker) handlePTZMove(ctx context.Context, cmd types.Command) types.CommandResponse {
	if !w.cfg.PTZEnabled {
		return types.Err(cmd.RequestID, "PTZ not enabled for this camera")
	}
	dirRaw, _ := cmd.Params["direction"].(string)
	dir := Direction(dirRaw)

	panTiltStep := w.cfg.PTZStep
	zoomStep := w.cfg.PTZZoomStep
	if step, ok := cmd.Params["step"].(float64); ok && step > 0 {
		panTiltStep = step
		zoomStep = step
	}

	pan, tilt, zoom, ok := Velocity(dir, panTiltStep, zoomStep)
	if !ok {
		return types.Err(cmd.RequestID, fmt.Sprintf("unknown ptz direction %q", dirRaw))
	}

	w.ptzMu.Lock()
	defer w.ptzMu.Unlock()
	if err := w.ptz.Move(ctx, pan, tilt, zoom); err != nil {
		return types.Err(cmd.RequestID, err.Error())
	}
	return types.OK(cmd.RequestID, nil)
}

func statusData(s Status) map[string]interface{} {
	return map[string]interface{}{
		"state":      string(s.State),
		"connected":  s.Connected,
		"error":      s.Error,
		"resolution": s.Resolution,
		"fps":        s.FPS,
		"uptime":     s.Uptime,
	}
}

// ConfigChanged receives config:changed events and does nothing with them,
// including `camera` ones: the worker keeps the Config and StreamOptions it
// was constructed with, and a new camera section is not read or applied
// until the process is started again.
func (w *Worker) ConfigChanged(ctx context.Context, br broker.Interface, section string) {
	if section != types.SectionCamera {
		return
	}
}

// AfterCommand implements sourceworker.PostCommandHook: on `stop`, publish
// stream:ended and cancel the run context so the process exits, strictly
// after the `ok` response has already gone out (spec §4.4.6).
func (w *Worker) AfterCommand(ctx context.Context, br broker.Interface, cmd types.Command, resp types.CommandResponse) {
	if cmd.Action != "stop" {
		return
	}
	w.stream.Stop()
	if w.healthStop != nil {
		close(w.healthStop)
	}
	_ = br.PublishStreamEnded(ctx, types.StreamEndedEvent{SourceID: SourceID, Reason: "user_stopped"})
	if w.cancel != nil {
		w.cancel()
	}
}
