package session

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// Settings keys read from the settings provider.
const (
	SettingStartWindow            = "session_start_window_minutes"
	SettingLateThreshold          = "auto_mark_late_threshold"
	SettingLowAttendanceThreshold = "low_attendance_threshold"
)

const (
	defaultStartWindowMinutes     = 15
	defaultLateThresholdMinutes   = 10
	defaultLowAttendanceThreshold = 70
)

// Config is the engine's typed runtime configuration, enumerated once at
// startup instead of read as loose key/value pairs per call.
type Config struct {
	StartWindowMinutes            int `validate:"gt=0"`
	LateThresholdMinutes          int `validate:"gte=0"`
	LowAttendanceThresholdPercent int `validate:"gte=0,lte=100"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		StartWindowMinutes:            defaultStartWindowMinutes,
		LateThresholdMinutes:          defaultLateThresholdMinutes,
		LowAttendanceThresholdPercent: defaultLowAttendanceThreshold,
	}
}

// LoadConfig resolves the engine configuration from the settings provider,
// falling back to defaults for anything missing or out of range.
func LoadConfig(ctx context.Context, s Settings) Config {
	cfg := Config{
		StartWindowMinutes:            s.GetInt(ctx, SettingStartWindow, defaultStartWindowMinutes),
		LateThresholdMinutes:          s.GetInt(ctx, SettingLateThreshold, defaultLateThresholdMinutes),
		LowAttendanceThresholdPercent: s.GetInt(ctx, SettingLowAttendanceThreshold, defaultLowAttendanceThreshold),
	}
	if err := validate.Struct(cfg); err != nil {
		return DefaultConfig()
	}
	return cfg
}

var validate = validator.New()
