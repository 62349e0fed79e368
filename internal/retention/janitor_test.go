package retention_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/retention"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

func TestSweep_PurgesOnlyExpired(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()

	s.CreatePendingAction(ctx, &models.PendingAction{Token: "old", ActorID: "a", ExpiresAt: time.Now().Add(-time.Minute)})
	s.CreatePendingAction(ctx, &models.PendingAction{Token: "fresh", ActorID: "a", ExpiresAt: time.Now().Add(time.Hour)})

	j := retention.NewJanitor(s, time.Minute)
	if n := j.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if n := j.Sweep(ctx); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}

	if _, err := s.ClaimPendingAction(ctx, "old", "a"); !store.IsNotFound(err) {
		t.Errorf("expired action still claimable: %v", err)
	}
	if _, err := s.ClaimPendingAction(ctx, "fresh", "a"); err != nil {
		t.Errorf("fresh action was purged: %v", err)
	}
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) PurgeExpiredPendingActions(context.Context, time.Time) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestSweep_ErrorIsSwallowed(t *testing.T) {
	c := &countingSweeper{err: errors.New("connection reset")}
	if n := retention.NewJanitor(c, time.Minute).Sweep(context.Background()); n != 0 {
		t.Fatalf("Sweep() = %d, want 0 on error", n)
	}
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	c := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		retention.NewJanitor(c, time.Hour).Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.calls.Load() == 0 {
		t.Fatal("Start() did not sweep on startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
