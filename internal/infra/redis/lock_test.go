//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"comment-refiner/internal/domain"
)

// scriptedSetNX answers SETNX attempts in order and records when each one ran.
type scriptedSetNX struct {
	results []error // nil acquires, errBusy reports a held lock
	at      []time.Time
}

var errBusy = errors.New("busy")

func (s *scriptedSetNX) setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.at = append(s.at, time.Now())
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	switch {
	case r == nil:
		return true, nil
	case errors.Is(r, errBusy):
		return false, nil
	default:
		return false, r
	}
}

func (s *scriptedSetNX) minGap() time.Duration {
	gap := time.Duration(-1)
	for i := 1; i < len(s.at); i++ {
		if d := s.at[i].Sub(s.at[i-1]); gap < 0 || d < gap {
			gap = d
		}
	}
	return gap
}

func TestRedisLocker_WaitsAfterSetNXError(t *testing.T) {
	const wait = 20 * time.Millisecond
	script := &scriptedSetNX{results: []error{errors.New("connection reset"), nil}}
	l := &RedisLocker{setNX: script.setNX, wait: wait}

	token, err := l.TryLock(context.Background(), "refine_lock:s1", time.Minute)
	if err != nil || token == "" {
		t.Fatalf("lock: %q %v", token, err)
	}
	if len(script.at) != 2 {
		t.Fatalf("attempts = %d", len(script.at))
	}
	if gap := script.minGap(); gap < wait {
		t.Fatalf("retried after %v, want at least %v", gap, wait)
	}
}

func TestRedisLocker_GivesUp(t *testing.T) {
	const wait = 5 * time.Millisecond

	busy := &scriptedSetNX{results: []error{errBusy}}
	if _, err := (&RedisLocker{setNX: busy.setNX, wait: wait}).TryLock(context.Background(), "k", time.Minute); !errors.Is(err, domain.ErrTurnInProgress) {
		t.Fatalf("held lock: %v", err)
	}
	if len(busy.at) != lockAttempts {
		t.Fatalf("attempts = %d", len(busy.at))
	}

	down := errors.New("connection refused")
	failing := &scriptedSetNX{results: []error{down}}
	if _, err := (&RedisLocker{setNX: failing.setNX, wait: wait}).TryLock(context.Background(), "k", time.Minute); !errors.Is(err, down) {
		t.Fatalf("redis down: %v", err)
	}
	if gap := failing.minGap(); gap < wait {
		t.Fatalf("error retries not spaced: %v", gap)
	}
}

func TestRedisLocker_StopsOnCancel(t *testing.T) {
	script := &scriptedSetNX{results: []error{errors.New("timeout")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&RedisLocker{setNX: script.setNX, wait: time.Hour}).TryLock(ctx, "k", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(script.at) != 1 {
		t.Fatalf("attempts = %d", len(script.at))
	}
}
