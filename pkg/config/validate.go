package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule reports whether schedule is a valid cron expression.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateTimezone reports whether timezone names a loadable IANA location.
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return fmt.Errorf("invalid timezone: cannot be empty")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return nil
}

// ValidateDuration checks that d lies within [min, max].
func ValidateDuration(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error {
		if d < min {
			return fmt.Errorf("duration %v is below minimum %v", d, min)
		}
		if d > max {
			return fmt.Errorf("duration %v exceeds maximum %v", d, max)
		}
		return nil
	}
}

// ValidatePositiveDuration rejects zero and negative durations.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateIntRange checks that n lies within [min, max].
func ValidateIntRange(min, max int) func(int) error {
	return func(n int) error {
		if n < min {
			return fmt.Errorf("value %d is below minimum %d", n, min)
		}
		if n > max {
			return fmt.Errorf("value %d exceeds maximum %d", n, max)
		}
		return nil
	}
}

// ValidateFraction checks that f lies within [0, 1].
func ValidateFraction(f float64) error {
	if f < 0 || f > 1 {
		return fmt.Errorf("value %v must be between 0 and 1", f)
	}
	return nil
}
