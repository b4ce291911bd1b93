package usecase_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"go.uber.org/zap"
)

func TestExitCoordinator_SingleHolder(t *testing.T) {
	c := usecase.NewExitCoordinator(time.Minute, zap.NewNop())

	if !c.TryAcquire(1, "trailing") {
		t.Fatal("first acquire denied")
	}
	if c.TryAcquire(1, "protective") {
		t.Error("second acquire granted while lock held")
	}

	// A different position is unaffected.
	if !c.TryAcquire(2, "trailing") {
		t.Error("acquire denied for unrelated position")
	}

	holder, ok := c.Holder(1)
	if !ok || holder != "trailing" {
		t.Errorf("unexpected holder %q", holder)
	}
}

func TestExitCoordinator_ReleaseAllowsReacquire(t *testing.T) {
	c := usecase.NewExitCoordinator(time.Minute, zap.NewNop())

	c.TryAcquire(1, "trailing")
	c.Release(1)

	if !c.TryAcquire(1, "reconcile") {
		t.Error("acquire denied after release")
	}

	// Releasing an unheld lock is a no-op.
	c.Release(99)
}

func TestExitCoordinator_ExpiredLockTakeover(t *testing.T) {
	c := usecase.NewExitCoordinator(20*time.Millisecond, zap.NewNop())

	c.TryAcquire(1, "trailing")
	time.Sleep(30 * time.Millisecond)

	if c.Locked(1) {
		t.Error("expired lock still reported as held")
	}
	if !c.TryAcquire(1, "reconcile") {
		t.Error("takeover of expired lock denied")
	}
}

func TestExitCoordinator_ConcurrentTriggersOneWinner(t *testing.T) {
	c := usecase.NewExitCoordinator(time.Minute, zap.NewNop())

	// Trailing stop, protective stop and the reconciler all fire for the
	// same position at once; exactly one may submit the exit.
	const triggers = 32
	var granted atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.TryAcquire(1, "race") {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := granted.Load(); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}
