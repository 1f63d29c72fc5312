// Package sourceworker implements the two lifecycle bases every telemetry
// source is built on: a one-shot EphemeralSource (spec §4.2) and a
// long-running PersistentSource (spec §4.3). Concrete sources (weather,
// sense-hat, etc.) implement the small interfaces below; RunEphemeral and
// RunPersistent own everything else — connecting, polling, status
// bookkeeping, and command/config dispatch.
package sourceworker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// EphemeralSource is implemented by a source that polls once and exits.
type EphemeralSource interface {
	SourceID() string
	Metadata() types.SourceMetadata
	Poll(ctx context.Context, br broker.Interface) ([]types.SensorReading, error)
}

// RunEphemeral executes one full poll-and-exit pass of spec §4.2 steps 2–6,
// including the best-effort failure-status write on error. Connecting to
// the broker (step 1) is the caller's responsibility via broker.New, so
// RunEphemeral can be tested against brokertest.Fake without a real Redis.
func RunEphemeral(ctx context.Context, br broker.Interface, src EphemeralSource) error {
	sourceID := src.SourceID()
	t0 := nowUnix()

	readings, err := src.Poll(ctx, br)
	if err != nil {
		return writeFailureStatus(ctx, br, sourceID, t0, err)
	}

	if werr := br.WriteReadings(ctx, sourceID, readings); werr != nil {
		return writeFailureStatus(ctx, br, sourceID, t0, werr)
	}
	if werr := br.WriteMetadata(ctx, sourceID, src.Metadata()); werr != nil {
		return writeFailureStatus(ctx, br, sourceID, t0, werr)
	}

	now := nowUnix()
	status := types.SourceStatus{
		SourceID:    sourceID,
		LastPoll:    &t0,
		LastSuccess: &now,
		PollCount:   1,
	}
	if werr := br.WriteStatus(ctx, sourceID, status); werr != nil {
		return writeFailureStatus(ctx, br, sourceID, t0, werr)
	}

	if perr := br.PublishData(ctx, sourceID); perr != nil {
		log.Printf("sourceworker[%s]: publish data notification: %v", sourceID, perr)
	}
	return nil
}

// writeFailureStatus implements spec §4.2's "best-effort; if that write
// itself fails, log and give up" error path.
func writeFailureStatus(ctx context.Context, br broker.Interface, sourceID string, t0 float64, cause error) error {
	msg := cause.Error()
	status := types.SourceStatus{
		SourceID:   sourceID,
		LastPoll:   &t0,
		LastError:  &msg,
		ErrorCount: 1,
	}
	if werr := br.WriteStatus(ctx, sourceID, status); werr != nil {
		log.Printf("sourceworker[%s]: failed to record failure status after %q: %v", sourceID, msg, werr)
	}
	return fmt.Errorf("sourceworker[%s]: poll failed: %w", sourceID, cause)
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
