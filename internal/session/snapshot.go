package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pdfqa/internal/models"
	"pdfqa/internal/redis"
)

// Snapshot is what survives a process restart: the loaded document and the
// assembled text, never the uploaded file itself.
type Snapshot struct {
	SessionID  string           `json:"session_id"`
	Document   *models.Document `json:"document"`
	Context    string           `json:"context"`
	LastAnswer *models.Answer   `json:"last_answer,omitempty"`
}

type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (*Snapshot, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// NopStore keeps nothing.
type NopStore struct{}

func (NopStore) Save(context.Context, *Snapshot, time.Duration) error { return nil }

func (NopStore) Load(context.Context, string) (*Snapshot, bool, error) { return nil, false, nil }

func (NopStore) Delete(context.Context, string) error { return nil }

const redisKeyPrefix = "pdfqa:session:"

// RedisStore keeps snapshots as JSON values that expire with the session.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *RedisStore) Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	if snap == nil || snap.SessionID == "" {
		return errors.New("snapshot requires a session id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(snap.SessionID), data, ttl); err != nil {
		return fmt.Errorf("store snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*Snapshot, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		// a corrupt entry is useless; drop it
		if delErr := r.client.Del(ctx, redisKey(sessionID)); delErr != nil {
			r.logger.Warn("drop corrupt snapshot failed", zap.String("session", sessionID), zap.Error(delErr))
		}
		return nil, false, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	if snap.SessionID != sessionID || snap.Document == nil {
		return nil, false, nil
	}
	return &snap, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisKey(sessionID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}
