package config

import "errors"

var (
	ErrEmptyID            = errors.New("target ID cannot be empty")
	ErrEmptyToken         = errors.New("token cannot be empty")
	ErrInvalidStatus      = errors.New("status must be online, idle, dnd, or invisible")
	ErrInvalidPriority    = errors.New("priority must be a positive integer")
	ErrInvalidShard       = errors.New("shard_id must be within [0, shard_count)")
	ErrInvalidVoiceTarget = errors.New("guild_id and channel_id must be set together")
	ErrTooManyTargets     = errors.New("maximum targets exceeded")
	ErrDuplicateID        = errors.New("duplicate target ID")
	ErrConfigNotFound     = errors.New("configuration not found")
)
