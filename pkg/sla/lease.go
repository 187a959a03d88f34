package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leaser serializes scan rounds across monitor replicas so only one writer
// flags breaches at a time.
type Leaser interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopLeaser always grants the lease, for single-replica deployments and tests.
type NoopLeaser struct{}

func (NoopLeaser) Acquire(_ context.Context) (bool, error) { return true, nil }
func (NoopLeaser) Release(_ context.Context) error         { return nil }

const leaseKey = "flowline:sla:lease"

// RedisLeaser implements the lease with a SET NX key that expires on its own
// if the holder dies mid-scan.
type RedisLeaser struct {
	client   *redis.Client
	holderID string
	ttl      time.Duration
}

func NewRedisLeaser(client *redis.Client, holderID string, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{
		client:   client,
		holderID: holderID,
		ttl:      ttl,
	}
}

func (l *RedisLeaser) Acquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, leaseKey, l.holderID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	return acquired, nil
}

// Release deletes the lease only when this instance still holds it.
func (l *RedisLeaser) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, leaseKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}

		return fmt.Errorf("failed to read lease: %w", err)
	}

	if current != l.holderID {
		return nil
	}

	err = l.client.Del(ctx, leaseKey).Err()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}
