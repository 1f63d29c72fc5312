package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// cleanupDelay is how long the lifecycle listener waits after a
// stream:ended event before stopping the camera container, giving ffmpeg
// time to fully exit (spec §4.7).
const cleanupDelay = 2 * time.Second

// LifecycleListener reacts to stream:ended events by stopping the camera
// container and recording the reason in its status, the Go analog of
// lifecycle.py's LifecycleListener.
type LifecycleListener struct {
	br     broker.Interface
	runner Runner
}

// NewLifecycleListener builds a LifecycleListener bound to the given broker
// and runner.
func NewLifecycleListener(br broker.Interface, runner Runner) *LifecycleListener {
	return &LifecycleListener{br: br, runner: runner}
}

// Run subscribes to stream:ended and handles every event until ctx is
// canceled.
func (l *LifecycleListener) Run(ctx context.Context) {
	log.Printf("orchestrator: lifecycle listener started")
	for {
		if ctx.Err() != nil {
			return
		}
		events, cancel, err := l.br.SubscribeStreamEnded(ctx)
		if err != nil {
			log.Printf("orchestrator: subscribe stream:ended: %v", err)
			if !sleepOrDone(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		l.drain(ctx, events)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, resubscribeDelay) {
			return
		}
	}
}

func (l *LifecycleListener) drain(ctx context.Context, events <-chan types.StreamEndedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *LifecycleListener) handle(ctx context.Context, evt types.StreamEndedEvent) {
	sourceID := evt.SourceID
	if sourceID == "" {
		sourceID = "network_camera"
	}
	reason := evt.Reason
	if reason == "" {
		reason = "unknown"
	}
	log.Printf("orchestrator: stream ended for %s, reason: %s", sourceID, reason)

	if !sleepOrDone(ctx, cleanupDelay) {
		return
	}

	l.runner.StopService(ctx, "source-camera")

	errMsg := fmt.Sprintf("Stream ended: %s", reason)
	status := types.SourceStatus{SourceID: "network_camera", LastError: &errMsg}
	if err := l.br.WriteStatus(ctx, "network_camera", status); err != nil {
		log.Printf("orchestrator: write network_camera status: %v", err)
	}
}
