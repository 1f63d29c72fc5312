package orchestrator

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// App wires every orchestrator component together, the Go analog of
// main.py's run(): seed config, build the schedule, start the scheduler,
// command listener, lifecycle listener, config-change listener, and health
// monitor, then run them all until ctx is canceled.
type App struct {
	br        broker.Interface
	runner    Runner
	scheduler *Scheduler
}

// NewApp seeds config from the environment, loads (or falls back to
// env-derived) schedules, and builds every orchestrator component.
func NewApp(ctx context.Context, br broker.Interface) *App {
	projectName := config.GetEnv("COMPOSE_PROJECT_NAME", "sense-pulse")
	runner := NewRunner(projectName)

	if seeded := SeedAllConfig(ctx, br); len(seeded) > 0 {
		log.Printf("orchestrator: seeded config sections: %v", seeded)
	}

	scheduler := NewScheduler(runner, loadSchedules(ctx, br))

	return &App{br: br, runner: runner, scheduler: scheduler}
}

// loadSchedules reads config:schedule (seeded or previously set) and merges
// it over env-derived defaults for any missing keys (spec §4.5/§4.9).
func loadSchedules(ctx context.Context, br broker.Interface) map[string]int {
	schedules := map[string]int{}
	for svc, interval := range DefaultSchedules {
		schedules[svc] = envScheduleDefault(svc, interval)
	}

	section, ok, err := br.ReadConfig(ctx, types.SectionSchedule)
	if err != nil {
		log.Printf("orchestrator: read config:schedule: %v", err)
		return schedules
	}
	if !ok {
		return schedules
	}
	for key, raw := range section {
		n, ok := asInt(raw)
		if !ok {
			continue
		}
		svc := key
		if len(svc) < 7 || svc[:7] != "source-" {
			svc = "source-" + svc
		}
		schedules[svc] = n
	}
	return schedules
}

func envScheduleDefault(service string, fallback int) int {
	name := service
	if len(name) > 7 && name[:7] == "source-" {
		name = name[7:]
	}
	envKey := "SCHEDULE_" + strings.ToUpper(name)
	return config.GetEnvInt(envKey, fallback)
}

// Run starts every orchestrator component and blocks until ctx is
// canceled, then waits for all of them to finish, matching main.py's
// task-group shutdown.
func (a *App) Run(ctx context.Context) {
	commandListener := NewCommandListener(a.br, a.runner)
	lifecycleListener := NewLifecycleListener(a.br, a.runner)
	healthMonitor := NewHealthMonitor(a.br)

	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); a.scheduler.Run(ctx) }()
	go func() { defer wg.Done(); commandListener.Run(ctx) }()
	go func() { defer wg.Done(); lifecycleListener.Run(ctx) }()
	go func() { defer wg.Done(); healthMonitor.Run(ctx) }()
	go func() { defer wg.Done(); a.runConfigChangeListener(ctx) }()

	log.Printf("orchestrator: started")
	wg.Wait()
	log.Printf("orchestrator: stopped")
}

// runConfigChangeListener reacts to config:changed events the way
// main.py's _config_change_listener does: a schedule change hot-reloads
// the scheduler, an auth or camera change is logged as needing manual
// follow-up, everything else is a no-op.
func (a *App) runConfigChangeListener(ctx context.Context) {
	log.Printf("orchestrator: config change listener started")
	for {
		if ctx.Err() != nil {
			return
		}
		sections, cancel, err := a.br.SubscribeConfigChanges(ctx)
		if err != nil {
			log.Printf("orchestrator: subscribe config changes: %v", err)
			if !sleepOrDone(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		a.drainConfigChanges(ctx, sections)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, resubscribeDelay) {
			return
		}
	}
}

func (a *App) drainConfigChanges(ctx context.Context, sections <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case section, ok := <-sections:
			if !ok {
				return
			}
			a.handleConfigChange(ctx, section)
		}
	}
}

func (a *App) handleConfigChange(ctx context.Context, section string) {
	switch section {
	case types.SectionSchedule:
		data, ok, err := a.br.ReadConfig(ctx, types.SectionSchedule)
		if err != nil || !ok {
			return
		}
		updates := make(map[string]int, len(data))
		for k, v := range data {
			if n, ok := asInt(v); ok {
				updates[k] = n
			}
		}
		a.scheduler.UpdateSchedule(updates)
		log.Printf("orchestrator: schedule updated from config change")
	case types.SectionAuth:
		log.Printf("orchestrator: auth config changed, web-gateway restart may be required")
	case types.SectionCamera:
		if contains(a.runner.Running(), "source-camera") {
			log.Printf("orchestrator: camera config changed, restart stream to apply")
		}
	default:
		log.Printf("orchestrator: config changed for section %s (no action needed)", section)
	}
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
