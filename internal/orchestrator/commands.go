package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// CommandListener dispatches cmd:orchestrator commands to the fixed action
// table of spec §4.6, the Go analog of commands.py's CommandListener. The
// table shape follows the teacher's handler-registry pattern
// (eventbus.Bus.Register/matchingHandlers) reduced to the simpler
// one-action-one-handler case this spec actually needs.
type CommandListener struct {
	br     broker.Interface
	runner Runner
}

// NewCommandListener builds a CommandListener bound to the given broker and
// runner.
func NewCommandListener(br broker.Interface, runner Runner) *CommandListener {
	return &CommandListener{br: br, runner: runner}
}

type commandHandler func(ctx context.Context, cmd types.Command) types.CommandResponse

// handlers returns the action table; built per-call so each handler closes
// over `l` without needing a package-level map keyed by method value.
func (l *CommandListener) handlers() map[string]commandHandler {
	return map[string]commandHandler{
		"start_camera":     l.handleStartCamera,
		"stop_camera":      l.handleStopCamera,
		"trigger":          l.handleTrigger,
		"scan_aranet4":     l.handleScanAranet4,
		"discover_cameras": l.handleDiscoverCameras,
		"restart_service":  l.handleRestartService,
	}
}

// Run subscribes to cmd:orchestrator and dispatches every command until ctx
// is canceled, re-subscribing on a dropped connection like every other
// persistent listener in this fleet.
func (l *CommandListener) Run(ctx context.Context) {
	log.Printf("orchestrator: command listener started")
	for {
		if ctx.Err() != nil {
			return
		}
		cmds, cancel, err := l.br.SubscribeCommands(ctx, "orchestrator")
		if err != nil {
			log.Printf("orchestrator: subscribe commands: %v", err)
			if !sleepOrDone(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		l.drain(ctx, cmds)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, resubscribeDelay) {
			return
		}
	}
}

func (l *CommandListener) drain(ctx context.Context, cmds <-chan types.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			go l.handle(ctx, cmd)
		}
	}
}

// handle dispatches a single command and publishes its response, matching
// commands.py's per-command asyncio.create_task fan-out.
func (l *CommandListener) handle(ctx context.Context, cmd types.Command) {
	resp := l.dispatch(ctx, cmd)
	if err := l.br.PublishResponse(ctx, "orchestrator", resp); err != nil {
		log.Printf("orchestrator: publish command response: %v", err)
	}
}

func (l *CommandListener) dispatch(ctx context.Context, cmd types.Command) (resp types.CommandResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = types.Err(cmd.RequestID, fmt.Sprintf("panic handling command: %v", r))
		}
	}()

	handler, ok := l.handlers()[cmd.Action]
	if !ok {
		log.Printf("orchestrator: unknown command action: %s", cmd.Action)
		return types.Err(cmd.RequestID, fmt.Sprintf("Unknown action: %s", cmd.Action))
	}
	return handler(ctx, cmd)
}

func (l *CommandListener) handleStartCamera(ctx context.Context, cmd types.Command) types.CommandResponse {
	if l.runner.StartService(ctx, "source-camera") {
		return types.OK(cmd.RequestID, nil)
	}
	return types.Err(cmd.RequestID, "Failed to start camera service")
}

// handleStopCamera sends the camera worker a `stop` command rather than
// stopping the container directly; the camera self-terminates and publishes
// stream:ended, which the lifecycle listener reacts to (spec §4.4.6/§4.7).
func (l *CommandListener) handleStopCamera(ctx context.Context, cmd types.Command) types.CommandResponse {
	stopCmd := types.Command{Action: "stop", RequestID: broker.NewRequestID()}
	if err := l.br.PublishCommand(ctx, "network_camera", stopCmd); err != nil {
		return types.Err(cmd.RequestID, err.Error())
	}
	return types.OK(cmd.RequestID, nil)
}

func (l *CommandListener) handleTrigger(ctx context.Context, cmd types.Command) types.CommandResponse {
	service, _ := cmd.Params["service"].(string)
	if service == "" {
		return types.Err(cmd.RequestID, "Missing 'service' parameter")
	}
	if l.runner.RunEphemeral(ctx, service, nil) {
		return types.OK(cmd.RequestID, nil)
	}
	return types.Err(cmd.RequestID, fmt.Sprintf("Failed to run %s", service))
}

func (l *CommandListener) handleScanAranet4(ctx context.Context, cmd types.Command) types.CommandResponse {
	if !l.runner.RunEphemeral(ctx, "source-aranet4", map[string]string{"MODE": "scan"}) {
		return types.Err(cmd.RequestID, "Aranet4 scan failed")
	}
	var devices []types.Aranet4Device
	if _, err := l.br.ReadScan(ctx, "co2", &devices); err != nil {
		log.Printf("orchestrator: read scan:co2: %v", err)
	}
	return types.OK(cmd.RequestID, map[string]interface{}{"devices": devices})
}

func (l *CommandListener) handleDiscoverCameras(ctx context.Context, cmd types.Command) types.CommandResponse {
	if !l.runner.RunEphemeral(ctx, "source-camera", map[string]string{"MODE": "discover"}) {
		return types.Err(cmd.RequestID, "Camera discovery failed")
	}
	var cameras []types.DiscoveredCamera
	if _, err := l.br.ReadScan(ctx, "network_camera", &cameras); err != nil {
		log.Printf("orchestrator: read scan:network_camera: %v", err)
	}
	return types.OK(cmd.RequestID, map[string]interface{}{"cameras": cameras})
}

func (l *CommandListener) handleRestartService(ctx context.Context, cmd types.Command) types.CommandResponse {
	service, _ := cmd.Params["service"].(string)
	if service == "" {
		return types.Err(cmd.RequestID, "Missing 'service' parameter")
	}
	l.runner.StopService(ctx, service)
	if l.runner.StartService(ctx, service) {
		return types.OK(cmd.RequestID, nil)
	}
	return types.Err(cmd.RequestID, fmt.Sprintf("Failed to restart %s", service))
}
