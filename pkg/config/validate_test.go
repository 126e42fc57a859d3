package config

import (
	"testing"
	"time"
)

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"30 5 * * *", false},
		{"*/15 * * * *", false},
		{"0 9 * * 1-5", false},
		{"@hourly", false},
		{"", true},
		{"60 * * * *", true},
		{"* * * *", true},
		{"0 0 0 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateCronSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTimezone(t *testing.T) {
	tests := []struct {
		tz      string
		wantErr bool
	}{
		{"UTC", false},
		{"Asia/Tokyo", false},
		{"America/New_York", false},
		{"", true},
		{"Mars/Olympus_Mons", true},
	}

	for _, tt := range tests {
		t.Run(tt.tz, func(t *testing.T) {
			err := ValidateTimezone(tt.tz)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTimezone(%q) error = %v, wantErr %v", tt.tz, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	inRange := ValidateIntRange(1, 10)
	if err := inRange(1); err != nil {
		t.Errorf("lower bound rejected: %v", err)
	}
	if err := inRange(10); err != nil {
		t.Errorf("upper bound rejected: %v", err)
	}
	if err := inRange(0); err == nil {
		t.Error("0 accepted for [1,10]")
	}
	if err := inRange(11); err == nil {
		t.Error("11 accepted for [1,10]")
	}

	within := ValidateDuration(time.Second, time.Minute)
	if err := within(30 * time.Second); err != nil {
		t.Errorf("30s rejected: %v", err)
	}
	if err := within(time.Millisecond); err == nil {
		t.Error("1ms accepted for [1s,1m]")
	}
	if err := within(time.Hour); err == nil {
		t.Error("1h accepted for [1s,1m]")
	}

	if err := ValidatePositiveDuration(0); err == nil {
		t.Error("zero duration accepted")
	}
	if err := ValidateFraction(-0.1); err == nil {
		t.Error("negative fraction accepted")
	}
	if err := ValidateFraction(0); err != nil {
		t.Errorf("zero fraction rejected: %v", err)
	}
}
