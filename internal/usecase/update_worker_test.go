package usecase_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"go.uber.org/zap"
)

func riskTask(id domain.PositionID, ts time.Time) domain.UpdateTask {
	return domain.UpdateTask{
		Kind:       domain.TaskRiskState,
		PositionID: id,
		Risk:       &domain.RiskState{PositionID: id, Phase: domain.RiskInitial, StopLoss: 21450, LastUpdate: ts},
	}
}

func runWorker(t *testing.T, w *usecase.UpdateWorker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestUpdateWorker_DropsWhenFull(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(5, 3, store, store, store, zap.NewNop())

	// Worker not running: the queue fills, the overflow is dropped.
	now := time.Now()
	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Schedule(riskTask(domain.PositionID(i+1), now)) {
			accepted++
		}
	}

	if accepted != 5 {
		t.Errorf("expected 5 accepted, got %d", accepted)
	}
	stats := w.Stats()
	if stats.Dropped != 5 {
		t.Errorf("expected 5 dropped, got %d", stats.Dropped)
	}
	if stats.QueueLen != 5 {
		t.Errorf("expected queue length 5, got %d", stats.QueueLen)
	}
}

func TestUpdateWorker_AppliesWrites(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())
	cancel := runWorker(t, w)
	defer cancel()

	now := time.Now()
	w.Schedule(riskTask(42, now))

	waitFor(t, func() bool { return w.Stats().Completed == 1 })

	rs, err := store.GetRiskState(context.Background(), 42)
	if err != nil {
		t.Fatalf("risk state not written: %v", err)
	}
	if rs.StopLoss != 21450 {
		t.Errorf("wrong stop written: %f", rs.StopLoss)
	}
}

func TestUpdateWorker_RetriesThenSucceeds(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())

	store.failNext(2)
	cancel := runWorker(t, w)
	defer cancel()

	w.Schedule(riskTask(1, time.Now()))

	waitFor(t, func() bool { return w.Stats().Completed == 1 })

	stats := w.Stats()
	if stats.Retried != 2 {
		t.Errorf("expected 2 retries, got %d", stats.Retried)
	}
	if stats.Failed != 0 {
		t.Errorf("expected no permanent failures, got %d", stats.Failed)
	}
	if _, err := store.GetRiskState(context.Background(), 1); err != nil {
		t.Errorf("write never landed: %v", err)
	}
	if got := store.writeCount(); got != 3 {
		t.Errorf("expected 3 write attempts (2 failed, 1 ok), got %d", got)
	}
}

func TestUpdateWorker_PermanentFailureAfterBudget(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())

	// 3 retries on top of the first attempt: 4 failures exhaust the task.
	store.failNext(4)
	cancel := runWorker(t, w)
	defer cancel()

	w.Schedule(riskTask(1, time.Now()))

	waitFor(t, func() bool { return w.Stats().Failed == 1 })

	stats := w.Stats()
	if stats.Completed != 0 {
		t.Errorf("expected no completions, got %d", stats.Completed)
	}
	if stats.Retried != 3 {
		t.Errorf("expected 3 retries before giving up, got %d", stats.Retried)
	}
}

func TestUpdateWorker_SuccessCallbackRunsAfterWrite(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())
	cancel := runWorker(t, w)
	defer cancel()

	var sawWrite atomic.Bool
	task := riskTask(9, time.Now())
	task.OnSuccess = func() {
		// The write must already be durable when the callback fires.
		if _, err := store.GetRiskState(context.Background(), 9); err == nil {
			sawWrite.Store(true)
		}
	}
	w.Schedule(task)

	waitFor(t, func() bool { return w.Stats().Completed == 1 })
	if !sawWrite.Load() {
		t.Error("callback ran before the write was applied")
	}
}

func TestUpdateWorker_CallbackPanicDoesNotKillWorker(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())
	cancel := runWorker(t, w)
	defer cancel()

	task := riskTask(1, time.Now())
	task.OnSuccess = func() { panic("boom") }
	w.Schedule(task)
	w.Schedule(riskTask(2, time.Now()))

	waitFor(t, func() bool { return w.Stats().Completed == 2 })
}

func TestUpdateWorker_IdempotentReapply(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())
	cancel := runWorker(t, w)
	defer cancel()

	now := time.Now()
	newer := domain.UpdateTask{
		Kind:       domain.TaskRiskState,
		PositionID: 5,
		Risk:       &domain.RiskState{PositionID: 5, StopLoss: 21510, LastUpdate: now.Add(time.Second)},
	}
	older := domain.UpdateTask{
		Kind:       domain.TaskRiskState,
		PositionID: 5,
		Risk:       &domain.RiskState{PositionID: 5, StopLoss: 21450, LastUpdate: now},
	}

	// A stale write arriving after a newer one must not regress the row.
	w.Schedule(newer)
	w.Schedule(older)

	waitFor(t, func() bool { return w.Stats().Completed == 2 })

	rs, err := store.GetRiskState(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if rs.StopLoss != 21510 {
		t.Errorf("stale write regressed the stop: %f", rs.StopLoss)
	}
}

func TestUpdateWorker_DrainsOnShutdown(t *testing.T) {
	store := newMemStore()
	w := usecase.NewUpdateWorker(100, 3, store, store, store, zap.NewNop())

	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Schedule(riskTask(domain.PositionID(i+1), now))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: Run should still drain the queue
	go w.Run(ctx)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := w.Stats().Completed; got != 10 {
		t.Errorf("expected all 10 tasks drained, got %d", got)
	}

	// Scheduling after shutdown is refused.
	if w.Schedule(riskTask(99, now)) {
		t.Error("schedule accepted after shutdown")
	}
}
