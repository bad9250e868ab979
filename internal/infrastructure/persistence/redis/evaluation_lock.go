package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// lockStore is the subset of Cache used by EvaluationLock.
type lockStore interface {
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, token string) (bool, error)
}

// EvaluationLock keeps two evaluation passes for the same user from running
// at once across processes. Each acquisition stores a random token so a
// release never drops a lock taken by someone else after the TTL expired.
type EvaluationLock struct {
	store lockStore
	ttl   time.Duration
	log   *logger.Logger
}

// NewEvaluationLock creates the lock. A non-positive ttl uses
// TTLEvaluationLock.
func NewEvaluationLock(store lockStore, ttl time.Duration, log *logger.Logger) *EvaluationLock {
	if ttl <= 0 {
		ttl = TTLEvaluationLock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &EvaluationLock{
		store: store,
		ttl:   ttl,
		log:   log.With(logger.Component("evaluation_lock")),
	}
}

// Acquire takes lock:evaluation:<user>. acquired is false when another pass
// holds it.
func (l *EvaluationLock) Acquire(ctx context.Context, userID string) (func(), bool, error) {
	if userID == "" {
		return nil, false, ErrCacheKeyEmpty
	}

	key := EvaluationLockKey(userID)
	token := uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		released, err := l.store.DeleteIfEquals(releaseCtx, key, token)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			l.log.Warn("failed to release evaluation lock", logger.UserID(userID), logger.Err(err))
		case err == nil && !released:
			l.log.Warn("evaluation lock expired before release", logger.UserID(userID), logger.Duration("ttl", l.ttl))
		}
	}
	return release, true, nil
}
