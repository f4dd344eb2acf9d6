package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T) (*miniredis.Miniredis, *Tracker) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewTracker(client, "tg")
}

func testRules() Rules {
	return Rules{
		Enabled:     true,
		Threshold:   3,
		Duration:    10 * time.Minute,
		ResetWindow: 10 * time.Minute,
	}
}

func TestRecordFailure_TripsAtThreshold(t *testing.T) {
	_, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	for i := int64(1); i < 3; i++ {
		tripped, count, err := tracker.RecordFailure(ctx, "alice", testRules(), now)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if tripped || count != i {
			t.Fatalf("failure %d: tripped=%v count=%d", i, tripped, count)
		}
	}

	tripped, count, err := tracker.RecordFailure(ctx, "alice", testRules(), now)
	if err != nil {
		t.Fatalf("record failure 3: %v", err)
	}
	if !tripped || count != 3 {
		t.Fatalf("threshold failure: tripped=%v count=%d", tripped, count)
	}

	locked, until, err := tracker.Locked(ctx, "alice", now)
	if err != nil || !locked {
		t.Fatalf("expected locked, got %v, %v", locked, err)
	}
	if until.Before(now.Add(9 * time.Minute)) {
		t.Fatalf("lock should hold for the configured duration, until = %v", until)
	}

	// The counter was consumed by the trip.
	count, err = tracker.FailureCount(ctx, "alice", testRules().ResetWindow, now)
	if err != nil || count != 0 {
		t.Fatalf("expected counter cleared after trip, got %d, %v", count, err)
	}
}

func TestRecordFailure_WindowResets(t *testing.T) {
	_, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	tracker.RecordFailure(ctx, "alice", testRules(), now)
	tracker.RecordFailure(ctx, "alice", testRules(), now)

	// Failures outside the window start a fresh count.
	later := now.Add(11 * time.Minute)
	tripped, count, err := tracker.RecordFailure(ctx, "alice", testRules(), later)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if tripped || count != 1 {
		t.Fatalf("expected fresh window count 1, got tripped=%v count=%d", tripped, count)
	}
}

func TestRecordFailure_DisabledIsInert(t *testing.T) {
	_, tracker := newTestTracker(t)
	ctx := context.Background()

	rules := testRules()
	rules.Enabled = false
	for i := 0; i < 10; i++ {
		tripped, count, err := tracker.RecordFailure(ctx, "alice", rules, time.Now())
		if err != nil || tripped || count != 0 {
			t.Fatalf("disabled rules must not track: tripped=%v count=%d err=%v", tripped, count, err)
		}
	}

	locked, _, err := tracker.Locked(ctx, "alice", time.Now())
	if err != nil || locked {
		t.Fatalf("expected unlocked, got %v, %v", locked, err)
	}
}

func TestRecordSuccess_ClearsCounter(t *testing.T) {
	_, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	tracker.RecordFailure(ctx, "alice", testRules(), now)
	tracker.RecordFailure(ctx, "alice", testRules(), now)

	if err := tracker.RecordSuccess(ctx, "alice"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	count, err := tracker.FailureCount(ctx, "alice", testRules().ResetWindow, now)
	if err != nil || count != 0 {
		t.Fatalf("expected cleared counter, got %d, %v", count, err)
	}
}

func TestLock_ExpiresWithTTL(t *testing.T) {
	mr, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	if err := tracker.Lock(ctx, "alice", 5*time.Minute, now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	locked, _, _ := tracker.Locked(ctx, "alice", now)
	if !locked {
		t.Fatal("expected locked")
	}

	mr.FastForward(6 * time.Minute)

	locked, _, err := tracker.Locked(ctx, "alice", now.Add(6*time.Minute))
	if err != nil || locked {
		t.Fatalf("expected lock expired, got %v, %v", locked, err)
	}
}

func TestLock_ZeroDurationHoldsUntilUnlock(t *testing.T) {
	mr, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	if err := tracker.Lock(ctx, "alice", 0, now); err != nil {
		t.Fatalf("lock: %v", err)
	}

	mr.FastForward(24 * time.Hour)

	locked, until, err := tracker.Locked(ctx, "alice", now.Add(24*time.Hour))
	if err != nil || !locked {
		t.Fatalf("indefinite lock must hold, got %v, %v", locked, err)
	}
	if !until.IsZero() {
		t.Fatalf("indefinite lock has no expiry, got %v", until)
	}

	if err := tracker.Unlock(ctx, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	locked, _, err = tracker.Locked(ctx, "alice", now)
	if err != nil || locked {
		t.Fatalf("expected unlocked, got %v, %v", locked, err)
	}
}

func TestFailureCount_StaleWindowReadsZero(t *testing.T) {
	_, tracker := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	tracker.RecordFailure(ctx, "alice", testRules(), now)
	tracker.RecordFailure(ctx, "alice", testRules(), now)

	count, err := tracker.FailureCount(ctx, "alice", testRules().ResetWindow, now)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 inside window, got %d, %v", count, err)
	}

	count, err = tracker.FailureCount(ctx, "alice", testRules().ResetWindow, now.Add(11*time.Minute))
	if err != nil || count != 0 {
		t.Fatalf("expected 0 outside window, got %d, %v", count, err)
	}
}
