package sourceworker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// resubscribeDelay is how long a self-healing listener sleeps before
// retrying a broken subscription (spec §4.3: "sleep 1 s and re-subscribe").
const resubscribeDelay = time.Second

// PersistentSource is implemented by a source that runs continuously,
// polling on an interval and servicing commands and config changes.
type PersistentSource interface {
	SourceID() string
	Metadata() types.SourceMetadata
	Poll(ctx context.Context, br broker.Interface) ([]types.SensorReading, error)
	HandleCommand(ctx context.Context, br broker.Interface, cmd types.Command) types.CommandResponse
}

// PostCommandHook is an optional capability for sources that need to act
// after their response has been published — most notably a source that
// self-terminates on a command, which must not race its own reply.
type PostCommandHook interface {
	AfterCommand(ctx context.Context, br broker.Interface, cmd types.Command, resp types.CommandResponse)
}

// ConfigAware is an optional capability: sources that care about live
// config changes implement it; RunPersistent calls it when present,
// otherwise §4.3's "default implementation is a no-op" applies.
type ConfigAware interface {
	ConfigChanged(ctx context.Context, br broker.Interface, section string)
}

// RunPersistent runs the three cooperative tasks of spec §4.3 (poll,
// command listener, config listener) until ctx is canceled, then waits for
// all three to return.
func RunPersistent(ctx context.Context, br broker.Interface, src PersistentSource, interval time.Duration) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); runPollTask(ctx, br, src, interval) }()
	go func() { defer wg.Done(); runCommandListener(ctx, br, src) }()
	go func() { defer wg.Done(); runConfigListener(ctx, br, src) }()

	wg.Wait()
}

func runPollTask(ctx context.Context, br broker.Interface, src PersistentSource, interval time.Duration) {
	sourceID := src.SourceID()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollOnce(ctx, br, src, sourceID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollOnce(ctx, br, src, sourceID)
		}
	}
}

func pollOnce(ctx context.Context, br broker.Interface, src PersistentSource, sourceID string) {
	t0 := nowUnix()
	readings, err := src.Poll(ctx, br)
	now := nowUnix()

	if err != nil {
		msg := err.Error()
		status := types.SourceStatus{SourceID: sourceID, LastPoll: &t0, LastError: &msg, ErrorCount: 1}
		if werr := br.WriteStatus(ctx, sourceID, status); werr != nil {
			log.Printf("sourceworker[%s]: write failure status: %v", sourceID, werr)
		}
		return
	}

	if werr := br.WriteReadings(ctx, sourceID, readings); werr != nil {
		log.Printf("sourceworker[%s]: write readings: %v", sourceID, werr)
		return
	}
	status := types.SourceStatus{SourceID: sourceID, LastPoll: &t0, LastSuccess: &now, PollCount: 1}
	if werr := br.WriteStatus(ctx, sourceID, status); werr != nil {
		log.Printf("sourceworker[%s]: write status: %v", sourceID, werr)
	}
	if perr := br.PublishData(ctx, sourceID); perr != nil {
		log.Printf("sourceworker[%s]: publish data notification: %v", sourceID, perr)
	}
}

func runCommandListener(ctx context.Context, br broker.Interface, src PersistentSource) {
	sourceID := src.SourceID()
	for {
		if ctx.Err() != nil {
			return
		}
		cmds, cancel, err := br.SubscribeCommands(ctx, sourceID)
		if err != nil {
			log.Printf("sourceworker[%s]: subscribe commands: %v", sourceID, err)
			if !sleepOrDone(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		drainCommands(ctx, br, src, cmds)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, resubscribeDelay) {
			return
		}
	}
}

func drainCommands(ctx context.Context, br broker.Interface, src PersistentSource, cmds <-chan types.Command) {
	sourceID := src.SourceID()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			resp := invokeHandleCommand(ctx, br, src, cmd)
			if perr := br.PublishResponse(ctx, sourceID, resp); perr != nil {
				log.Printf("sourceworker[%s]: publish command response: %v", sourceID, perr)
			}
			// Hook runs strictly after the response is published, so a
			// source that self-terminates on a command (e.g. the camera
			// worker's "stop") never races its own reply.
			if hook, ok := src.(PostCommandHook); ok {
				hook.AfterCommand(ctx, br, cmd, resp)
			}
		}
	}
}

// invokeHandleCommand recovers from a panicking hook and synthesizes an
// error response, matching spec §4.3's "uncaught exceptions in the hook
// yield a synthesized error-status response".
func invokeHandleCommand(ctx context.Context, br broker.Interface, src PersistentSource, cmd types.Command) (resp types.CommandResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = types.Err(cmd.RequestID, "internal error handling command")
		}
	}()
	return src.HandleCommand(ctx, br, cmd)
}

func runConfigListener(ctx context.Context, br broker.Interface, src PersistentSource) {
	sourceID := src.SourceID()
	aware, ok := src.(ConfigAware)
	for {
		if ctx.Err() != nil {
			return
		}
		sections, cancel, err := br.SubscribeConfigChanges(ctx)
		if err != nil {
			log.Printf("sourceworker[%s]: subscribe config changes: %v", sourceID, err)
			if !sleepOrDone(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		drainConfig(ctx, br, sections, aware, ok)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, resubscribeDelay) {
			return
		}
	}
}

func drainConfig(ctx context.Context, br broker.Interface, sections <-chan string, aware ConfigAware, ok bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case section, open := <-sections:
			if !open {
				return
			}
			if ok {
				aware.ConfigChanged(ctx, br, section)
			}
		}
	}
}

// sleepOrDone returns false if ctx is canceled before d elapses.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
