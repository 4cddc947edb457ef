package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/notify"
)

const (
	// FiredGrace keeps a fired key around a little past contest start so a
	// late poll cannot resend the last threshold.
	FiredGrace = 30 * time.Minute

	// minFiredTTL guards against keys whose contest start is already behind us.
	minFiredTTL = time.Minute
)

// FiredStore is a notify.FiredSet backed by Redis, so delivered
// notifications survive a process restart.
type FiredStore struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

var _ notify.FiredSet = (*FiredStore)(nil)

// NewFiredStore creates a Redis-backed fired set.
func NewFiredStore(client *Client, logger *zap.Logger) *FiredStore {
	return &FiredStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (s *FiredStore) buildKey(key notify.Key) string {
	return s.client.key("fired", key.Slug, strconv.Itoa(key.Threshold))
}

// Seen reports whether key has been marked and not yet expired.
func (s *FiredStore) Seen(ctx context.Context, key notify.Key) (bool, error) {
	n, err := s.client.rdb.Exists(ctx, s.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Mark records key with SET NX. The entry expires FiredGrace after expiresAt.
func (s *FiredStore) Mark(ctx context.Context, key notify.Key, expiresAt time.Time) error {
	now := s.now()
	ttl := expiresAt.Sub(now) + FiredGrace
	if ttl < minFiredTTL {
		ttl = minFiredTTL
	}

	set, err := s.client.rdb.SetNX(ctx, s.buildKey(key), strconv.FormatInt(now.Unix(), 10), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		s.logger.Debug("notification key already fired", zap.String("key", key.String()))
	}

	return nil
}

// Evict is a no-op: Redis expires keys on its own.
func (s *FiredStore) Evict(context.Context, time.Time) (int, error) {
	return 0, nil
}
