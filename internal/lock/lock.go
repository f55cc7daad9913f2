// Package lock provides short lived mutual exclusion keyed by string, used to
// keep two verifications of one payment reference from running at once.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired means another holder owns the key.
var ErrNotAcquired = errors.New("lock held elsewhere")

// Release gives the lock back. Releasing an expired lock is not an error.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Local is an in-process Locker for single instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
	seq  uint64
}

type localEntry struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{
		held: make(map[string]localEntry),
		now:  time.Now,
	}
}

func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrNotAcquired
	}

	l.seq++
	token := l.seq
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
