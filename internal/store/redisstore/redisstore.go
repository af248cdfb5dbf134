// Package redisstore implements store.ResumeStore over Redis via
// mediocregopher/radix/v4, for deployments that run several manager
// processes sharing one resume-hint cache.
package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mediocregopher/radix/v4"
)

// Redis is a store.ResumeStore backed by a radix/v4 client.
type Redis struct {
	client radix.Client
	prefix string
}

// New wraps client, namespacing keys under prefix (e.g. "wsgateway:").
func New(client radix.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) seqKey(targetID string) string     { return r.prefix + "seq:" + targetID }
func (r *Redis) sessionKey(targetID string) string { return r.prefix + "session:" + targetID }

// GetSequence implements store.ResumeStore.
func (r *Redis) GetSequence(ctx context.Context, targetID string) (int64, bool, error) {
	var raw string
	if err := r.client.Do(ctx, radix.Cmd(&raw, "GET", r.seqKey(targetID))); err != nil {
		return 0, false, fmt.Errorf("redisstore: GET sequence: %w", err)
	}
	if raw == "" {
		return 0, false, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redisstore: parse sequence: %w", err)
	}
	return seq, true, nil
}

// SetSequence implements store.ResumeStore.
func (r *Redis) SetSequence(ctx context.Context, targetID string, sequence int64) error {
	if err := r.client.Do(ctx, radix.Cmd(nil, "SET", r.seqKey(targetID), strconv.FormatInt(sequence, 10))); err != nil {
		return fmt.Errorf("redisstore: SET sequence: %w", err)
	}
	return nil
}

// GetSessionID implements store.ResumeStore.
func (r *Redis) GetSessionID(ctx context.Context, targetID string) (string, bool, error) {
	var sessionID string
	if err := r.client.Do(ctx, radix.Cmd(&sessionID, "GET", r.sessionKey(targetID))); err != nil {
		return "", false, fmt.Errorf("redisstore: GET session: %w", err)
	}
	return sessionID, sessionID != "", nil
}

// SetSessionID implements store.ResumeStore.
func (r *Redis) SetSessionID(ctx context.Context, targetID string, sessionID string) error {
	if err := r.client.Do(ctx, radix.Cmd(nil, "SET", r.sessionKey(targetID), sessionID)); err != nil {
		return fmt.Errorf("redisstore: SET session: %w", err)
	}
	return nil
}
