// Package orchestrator is the single always-on process that drives the rest
// of the fleet: it schedules ephemeral pollers, dispatches cmd:orchestrator
// commands, reacts to stream:ended, watches fleet health, and seeds config
// from the environment on first boot (spec §4.5–§4.9).
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ephemeralTimeout bounds how long a `docker compose run --rm` poll may run
// before the runner kills it (spec §4.5's implicit ephemeral ceiling).
const ephemeralTimeout = 60 * time.Second

// Runner is the process-runner abstraction spec §4.6 requires the command
// dispatcher (and the scheduler, and the lifecycle listener) to depend on
// instead of a concrete docker-compose implementation: run_ephemeral,
// start_service, stop_service, and a read-only running set. Depending on
// this interface rather than *DockerRunner lets tests inject a fake runner
// to exercise dispatch success paths and the in-flight guard without
// shelling out to docker compose.
type Runner interface {
	RunEphemeral(ctx context.Context, service string, env map[string]string) bool
	StartService(ctx context.Context, service string) bool
	StopService(ctx context.Context, service string) bool
	Running() []string
}

// DockerRunner manages docker compose container lifecycle for the fleet. It
// is the Go analog of runner.py's DockerRunner, backed by os/exec instead of
// asyncio.create_subprocess_exec.
type DockerRunner struct {
	projectName string

	mu      sync.Mutex
	running map[string]bool
}

var _ Runner = (*DockerRunner)(nil)

// NewRunner builds a DockerRunner for the named compose project, defaulting
// to "sense-pulse" the way runner.py falls back to COMPOSE_PROJECT_NAME.
func NewRunner(projectName string) *DockerRunner {
	if projectName == "" {
		projectName = "sense-pulse"
	}
	return &DockerRunner{projectName: projectName, running: make(map[string]bool)}
}

// Running reports the set of currently running services.
func (r *DockerRunner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.running))
	for svc := range r.running {
		out = append(out, svc)
	}
	return out
}

func (r *DockerRunner) markRunning(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[service] {
		return false
	}
	r.running[service] = true
	return true
}

func (r *DockerRunner) clearRunning(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, service)
}

func (r *DockerRunner) baseCmd() []string {
	return []string{"docker", "compose", "-p", r.projectName}
}

// RunEphemeral runs `docker compose run --rm <service>` with an optional
// extra environment and a hard timeout, refusing to double-spawn a service
// that is already in flight (spec §4.5's in-flight guard).
func (r *DockerRunner) RunEphemeral(ctx context.Context, service string, env map[string]string) bool {
	if !r.markRunning(service) {
		log.Printf("orchestrator: service %s is already running, skipping", service)
		return false
	}
	defer r.clearRunning(service)

	args := append(r.baseCmd(), "--profile", "poll", "run", "--rm")
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, service)

	runCtx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		log.Printf("orchestrator: service %s timed out after %s", service, ephemeralTimeout)
		return false
	}
	if err != nil {
		log.Printf("orchestrator: service %s failed: %v\n%s", service, err, out)
		return false
	}
	log.Printf("orchestrator: service %s completed successfully", service)
	return true
}

// StartService brings up a long-running service via `docker compose up -d`.
func (r *DockerRunner) StartService(ctx context.Context, service string) bool {
	if !r.markRunning(service) {
		log.Printf("orchestrator: service %s is already running, skipping start", service)
		return false
	}

	args := append(r.baseCmd(), "--profile", "camera", "up", "-d", service)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("orchestrator: failed to start %s: %v\n%s", service, err, out)
		r.clearRunning(service)
		return false
	}
	log.Printf("orchestrator: service %s started successfully", service)
	return true
}

// StopService brings a service down via `docker compose stop`.
func (r *DockerRunner) StopService(ctx context.Context, service string) bool {
	args := append(r.baseCmd(), "--profile", "camera", "stop", service)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	r.clearRunning(service)
	if err != nil {
		log.Printf("orchestrator: failed to stop %s: %v\n%s", service, err, out)
		return false
	}
	log.Printf("orchestrator: service %s stopped successfully", service)
	return true
}
