package config

import (
	"errors"
	"testing"
)

func validTarget() Target {
	return Target{
		ID:       "t1",
		Label:    "primary",
		Token:    "tok",
		Status:   StatusOnline,
		Priority: 1,
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Target)
		want   error
	}{
		{"valid", func(*Target) {}, nil},
		{"empty id", func(t *Target) { t.ID = "" }, ErrEmptyID},
		{"empty token", func(t *Target) { t.Token = "" }, ErrEmptyToken},
		{"bad status", func(t *Target) { t.Status = "away" }, ErrInvalidStatus},
		{"zero priority", func(t *Target) { t.Priority = 0 }, ErrInvalidPriority},
		{"shard out of range", func(t *Target) { t.ShardID = 4; t.ShardCount = 4 }, ErrInvalidShard},
		{"guild without channel", func(t *Target) { t.GuildID = "g1" }, ErrInvalidVoiceTarget},
		{"channel without guild", func(t *Target) { t.ChannelID = "c1" }, ErrInvalidVoiceTarget},
		{"voice pair", func(t *Target) { t.GuildID = "g1"; t.ChannelID = "c1" }, nil},
		{"empty status allowed", func(t *Target) { t.Status = "" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := validTarget()
			tt.mutate(&target)
			if err := target.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfigurationValidateRejectsDuplicates(t *testing.T) {
	cfg := &Configuration{Targets: []Target{validTarget(), validTarget()}}
	if err := cfg.Validate(); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Validate() = %v, want ErrDuplicateID", err)
	}
}

func TestConfigurationValidateRejectsTooMany(t *testing.T) {
	cfg := Default()
	for i := 0; i <= MaxTargets; i++ {
		target := validTarget()
		target.ID = target.ID + string(rune('a'+i%26)) + string(rune('a'+i/26))
		cfg.Targets = append(cfg.Targets, target)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrTooManyTargets) {
		t.Errorf("Validate() = %v, want ErrTooManyTargets", err)
	}
}
