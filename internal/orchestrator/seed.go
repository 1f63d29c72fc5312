package orchestrator

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/config"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// scheduleDefault pairs a schedule source name with its default interval,
// matching config_seeder.py's ordered list.
type scheduleDefault struct {
	name    string
	seconds int
}

var scheduleDefaults = []scheduleDefault{
	{"tailscale", 30},
	{"pihole", 30},
	{"system", 30},
	{"aranet4", 60},
	{"weather", 300},
}

// buildConfigMap builds section -> data from the environment, including
// only sections where at least one relevant env var is set (spec §4.9),
// except config:schedule which always seeds with defaults.
func buildConfigMap() map[string]types.ConfigSection {
	configs := make(map[string]types.ConfigSection)

	if host, pass := config.GetEnv("PIHOLE_HOST", ""), config.GetEnv("PIHOLE_PASSWORD", ""); host != "" || pass != "" {
		configs[types.SectionPihole] = types.ConfigSection{"host": host, "password": pass}
	}

	if loc := config.GetEnv("WEATHER_LOCATION", ""); loc != "" {
		configs[types.SectionWeather] = types.ConfigSection{"location": loc}
	}

	if _, set := os.LookupEnv("ARANET4_SENSORS"); set {
		sensors := config.GetEnvJSON("ARANET4_SENSORS", []interface{}{})
		configs[types.SectionAranet4] = types.ConfigSection{
			"sensors": sensors,
			"timeout": config.GetEnvInt("ARANET4_TIMEOUT", 10),
		}
	}

	if _, set := os.LookupEnv("CAMERA_CONFIG"); set {
		cameras := config.GetEnvJSON("CAMERA_CONFIG", []interface{}{})
		configs[types.SectionCamera] = types.ConfigSection{"cameras": cameras}
	}

	if hasAny("DISPLAY_ROTATION", "SCROLL_SPEED", "ICON_DURATION") {
		configs[types.SectionDisplay] = types.ConfigSection{
			"rotation":      config.GetEnvInt("DISPLAY_ROTATION", 0),
			"scroll_speed":  config.GetEnvFloat("SCROLL_SPEED", 0.08),
			"icon_duration": config.GetEnvFloat("ICON_DURATION", 1.5),
		}
	}

	if hasAny("SLEEP_START", "SLEEP_END", "DISABLE_PI_LEDS") {
		configs[types.SectionSleep] = types.ConfigSection{
			"start_hour":      config.GetEnvInt("SLEEP_START", 23),
			"end_hour":        config.GetEnvInt("SLEEP_END", 7),
			"disable_pi_leds": config.GetEnvBool("DISABLE_PI_LEDS", false),
		}
	}

	schedule := types.ConfigSection{}
	for _, sd := range scheduleDefaults {
		envKey := "SCHEDULE_" + strings.ToUpper(sd.name)
		schedule[sd.name] = config.GetEnvInt(envKey, sd.seconds)
	}
	configs[types.SectionSchedule] = schedule

	if hasAny("AUTH_ENABLED", "AUTH_USERNAME", "AUTH_PASSWORD_HASH") {
		configs[types.SectionAuth] = types.ConfigSection{
			"enabled":       config.GetEnvBool("AUTH_ENABLED", true),
			"username":      config.GetEnv("AUTH_USERNAME", ""),
			"password_hash": config.GetEnv("AUTH_PASSWORD_HASH", ""),
		}
	}

	return configs
}

// SeedAllConfig writes every config section built from the environment
// using compare-and-set semantics (spec §4.9): a section already present in
// the broker is left untouched. Returns which sections were newly written.
func SeedAllConfig(ctx context.Context, br broker.Interface) []string {
	var seeded []string
	for section, data := range buildConfigMap() {
		written, err := br.SeedConfig(ctx, section, data)
		if err != nil {
			log.Printf("orchestrator: seed config:%s: %v", section, err)
			continue
		}
		if written {
			seeded = append(seeded, section)
			log.Printf("orchestrator: seeded config:%s from environment", section)
		} else {
			log.Printf("orchestrator: config:%s already exists, skipping seed", section)
		}
	}
	return seeded
}

func hasAny(keys ...string) bool {
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); ok {
			return true
		}
	}
	return false
}
