package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemLockValue    = "LOCK"
	idemResultPrefix = "RES:"
)

type IdemState int

const (
	// IdemAcquired means the caller owns the key and must Complete or Release it.
	IdemAcquired IdemState = iota
	// IdemInFlight means another request holds the key right now.
	IdemInFlight
	// IdemDone means the key already has a stored result.
	IdemDone
)

// IdempotencyStore deduplicates requests by key. A key is first locked with
// SETNX and later replaced by the serialized result.
type IdempotencyStore struct {
	rdb       *redis.Client
	lockTTL   time.Duration
	resultTTL time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, lockTTL, resultTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, lockTTL: lockTTL, resultTTL: resultTTL}
}

// Begin tries to take key. When the key is already done the stored result is
// returned alongside IdemDone.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (IdemState, string, error) {
	ok, err := s.rdb.SetNX(ctx, key, idemLockValue, s.lockTTL).Result()
	if err != nil {
		return IdemInFlight, "", err
	}
	if ok {
		return IdemAcquired, "", nil
	}

	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// released between SETNX and GET
		return IdemInFlight, "", nil
	}
	if err != nil {
		return IdemInFlight, "", err
	}

	if payload, found := strings.CutPrefix(v, idemResultPrefix); found {
		return IdemDone, payload, nil
	}

	return IdemInFlight, "", nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, payload string) error {
	return s.rdb.Set(ctx, key, idemResultPrefix+payload, s.resultTTL).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
