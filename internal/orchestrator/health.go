package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// healthCheckInterval is how often the fleet-wide health sweep runs
// (spec §4.8).
const healthCheckInterval = 60 * time.Second

// overdueMultiplier is applied to a source's expected interval to decide
// whether its last success is stale (spec §4.8).
const overdueMultiplier = 3

// defaultIntervals mirrors health.py's default_intervals, keyed by
// source_id (not the "source-" compose service name scheduler uses).
var defaultIntervals = map[string]int{
	"tailscale": 30,
	"pihole":    30,
	"system":    30,
	"co2":       60,
	"weather":   300,
}

var meter = otel.Meter("sense-pulse/orchestrator")

// HealthMonitor periodically checks every source's last-success timestamp
// against its expected interval and republishes orchestrator's own status,
// the Go analog of health.py's HealthMonitor. Overdue counts are exported
// as an otel counter so a fleet-wide dashboard can alert on it, following
// the teacher's metric-instrument conventions.
type HealthMonitor struct {
	br        broker.Interface
	pollCount int

	overdueCounter metric.Int64Counter
}

// NewHealthMonitor builds a HealthMonitor bound to the given broker.
func NewHealthMonitor(br broker.Interface) *HealthMonitor {
	counter, err := meter.Int64Counter(
		"sense_pulse.orchestrator.overdue_sources",
		metric.WithDescription("count of sources found overdue on a health sweep"),
	)
	if err != nil {
		log.Printf("orchestrator: create overdue_sources counter: %v", err)
	}
	return &HealthMonitor{br: br, overdueCounter: counter}
}

// Run ticks every healthCheckInterval until ctx is canceled.
func (h *HealthMonitor) Run(ctx context.Context) {
	log.Printf("orchestrator: health monitor started (interval: %s)", healthCheckInterval)
	h.check(ctx)
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("orchestrator: health monitor stopped")
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HealthMonitor) check(ctx context.Context) {
	h.pollCount++
	now := time.Now()

	intervals := h.resolveIntervals(ctx)

	statuses, err := h.br.ReadAllStatuses(ctx)
	if err != nil {
		log.Printf("orchestrator: read all statuses: %v", err)
		return
	}

	var overdue []string
	for _, status := range statuses {
		if status.SourceID == "orchestrator" {
			continue
		}
		interval, ok := intervals[status.SourceID]
		if !ok {
			interval = 60
		}
		threshold := float64(interval * overdueMultiplier)
		if status.LastSuccess == nil {
			continue
		}
		age := now.Sub(time.Unix(0, int64(*status.LastSuccess*1e9)))
		if age.Seconds() > threshold {
			overdue = append(overdue, status.SourceID)
			log.Printf("orchestrator: source %s is overdue: last success %.0fs ago (threshold: %.0fs)",
				status.SourceID, age.Seconds(), threshold)
		}
	}

	if h.overdueCounter != nil && len(overdue) > 0 {
		h.overdueCounter.Add(ctx, int64(len(overdue)), metric.WithAttributes(
			attribute.StringSlice("sense_pulse.overdue_sources", overdue),
		))
	}

	nowUnix := float64(now.UnixNano()) / 1e9
	ownStatus := types.SourceStatus{
		SourceID:    "orchestrator",
		LastPoll:    &nowUnix,
		LastSuccess: &nowUnix,
		PollCount:   h.pollCount,
	}
	if len(overdue) > 0 {
		msg := fmt.Sprintf("Overdue sources: %s", strings.Join(overdue, ", "))
		ownStatus.LastError = &msg
	}
	if err := h.br.WriteStatus(ctx, "orchestrator", ownStatus); err != nil {
		log.Printf("orchestrator: write own status: %v", err)
		return
	}
	if len(overdue) == 0 {
		log.Printf("orchestrator: health check OK: all sources within thresholds")
	}
}

// resolveIntervals merges config:schedule over defaultIntervals, applying
// scheduleKeyToSourceID's aranet4->co2 translation (spec §4.8, §9).
func (h *HealthMonitor) resolveIntervals(ctx context.Context) map[string]int {
	intervals := make(map[string]int, len(defaultIntervals))
	for k, v := range defaultIntervals {
		intervals[k] = v
	}

	section, ok, err := h.br.ReadConfig(ctx, types.SectionSchedule)
	if err != nil {
		log.Printf("orchestrator: read config:schedule: %v", err)
		return intervals
	}
	if !ok {
		return intervals
	}
	for key, raw := range section {
		n, ok := asInt(raw)
		if !ok {
			continue
		}
		intervals[scheduleKeyToSourceID(key)] = n
	}
	return intervals
}

// scheduleKeyToSourceID centralizes the one naming split this fleet keeps:
// the schedule config key "aranet4" maps to the runtime status id "co2".
// Every other key already matches between the two namespaces.
func scheduleKeyToSourceID(scheduleKey string) string {
	if scheduleKey == "aranet4" {
		return "co2"
	}
	return scheduleKey
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
