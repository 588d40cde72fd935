package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/robfig/cron/v3"
)

const (
	ScheduleHourly = "hourly"
	ScheduleDaily  = "daily"
	ScheduleWeekly = "weekly"
	ScheduleCron   = "cron"
)

// ScheduleConfig is the typed configuration of a schedule trigger.
type ScheduleConfig struct {
	Schedule  string `json:"schedule"`
	Time      string `json:"time"`
	DayOfWeek *int   `json:"dayOfWeek,omitempty"`
	Cron      string `json:"cron,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// CronSpec translates a schedule trigger configuration into a standard
// five field cron spec, prefixed with CRON_TZ when a timezone is set.
func CronSpec(config map[string]any) (string, error) {
	cfg := ScheduleConfig{Schedule: ScheduleDaily, Time: "09:00"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return "", err
	}

	if cfg.Cron != "" && cfg.Schedule == ScheduleDaily && config["schedule"] == nil {
		cfg.Schedule = ScheduleCron
	}

	var spec string

	switch cfg.Schedule {
	case ScheduleCron:
		spec = strings.TrimSpace(cfg.Cron)
	case ScheduleHourly, ScheduleDaily, ScheduleWeekly:
		hour, minute, err := parseClock(cfg.Time)
		if err != nil {
			return "", err
		}

		switch cfg.Schedule {
		case ScheduleHourly:
			spec = fmt.Sprintf("%d * * * *", minute)
		case ScheduleDaily:
			spec = fmt.Sprintf("%d %d * * *", minute, hour)
		default:
			day := int(time.Monday)
			if cfg.DayOfWeek != nil {
				day = *cfg.DayOfWeek
			}

			if day < 0 || day > 6 {
				return "", fmt.Errorf("dayOfWeek must be between 0 and 6, got %d", day)
			}

			spec = fmt.Sprintf("%d %d * * %d", minute, hour, day)
		}
	default:
		return "", fmt.Errorf("unknown schedule '%s'", cfg.Schedule)
	}

	if cfg.Timezone != "" {
		_, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return "", fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}

		spec = "CRON_TZ=" + cfg.Timezone + " " + spec
	}

	_, err = cron.ParseStandard(spec)
	if err != nil {
		return "", fmt.Errorf("invalid cron spec '%s': %w", spec, err)
	}

	return spec, nil
}

func parseClock(value string) (int, int, error) {
	hourText, minuteText, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time must be HH:MM, got '%s'", value)
	}

	hour, err := strconv.Atoi(hourText)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in '%s'", value)
	}

	minute, err := strconv.Atoi(minuteText)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in '%s'", value)
	}

	return hour, minute, nil
}

// NewScheduleFactory creates the schedule trigger template.
func NewScheduleFactory() protocol.NodeFactory {
	return &factory{
		id:            models.TemplateScheduleTrigger,
		name:          "Schedule",
		description:   "Starts the workflow on a recurring schedule",
		defaultConfig: map[string]any{"schedule": ScheduleDaily, "time": "09:00"},
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"schedule": map[string]any{
					"type": "string",
					"enum": []string{ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleCron},
				},
				"time": map[string]any{
					"type":    "string",
					"pattern": `^\d{1,2}:\d{2}$`,
				},
				"dayOfWeek": map[string]any{
					"type":    "integer",
					"minimum": 0,
					"maximum": 6,
				},
				"cron":     map[string]any{"type": "string"},
				"timezone": map[string]any{"type": "string"},
			},
		},
		validate: func(config map[string]any) error {
			_, err := CronSpec(config)

			return err
		},
	}
}
