package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

// WorkerStats is a snapshot of the worker's running statistics.
type WorkerStats struct {
	Scheduled  uint64        `json:"scheduled"`
	Dropped    uint64        `json:"dropped"`
	Completed  uint64        `json:"completed"`
	Failed     uint64        `json:"failed"`
	Retried    uint64        `json:"retried"`
	QueueLen   int           `json:"queue_len"`
	MinLatency time.Duration `json:"min_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// UpdateWorker drains a bounded task queue on a single goroutine and
// applies idempotent writes to the store. Producers never block: when
// the queue is full the task is dropped with a warning, because the
// state cache already holds the value and only durability is delayed.
type UpdateWorker struct {
	tasks chan domain.UpdateTask

	groups    domain.GroupRepository
	positions domain.PositionRepository
	risks     domain.RiskRepository

	maxRetries   int
	writeTimeout time.Duration
	drainTimeout time.Duration
	logger       *zap.Logger

	closed atomic.Bool
	done   chan struct{}

	statsMu    sync.Mutex
	scheduled  uint64
	dropped    uint64
	completed  uint64
	failed     uint64
	retried    uint64
	latencySum time.Duration
	latencyMin time.Duration
	latencyMax time.Duration
}

func NewUpdateWorker(
	capacity int,
	maxRetries int,
	groups domain.GroupRepository,
	positions domain.PositionRepository,
	risks domain.RiskRepository,
	logger *zap.Logger,
) *UpdateWorker {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxRetries <= 0 {
		maxRetries = domain.MaxTaskRetries
	}
	return &UpdateWorker{
		tasks:        make(chan domain.UpdateTask, capacity),
		groups:       groups,
		positions:    positions,
		risks:        risks,
		maxRetries:   maxRetries,
		writeTimeout: 5 * time.Second,
		drainTimeout: 10 * time.Second,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Schedule enqueues a task without blocking. Returns false when the
// worker is stopped or the queue is full.
func (w *UpdateWorker) Schedule(task domain.UpdateTask) bool {
	if w.closed.Load() {
		w.logger.Warn("task rejected",
			zap.String("kind", string(task.Kind)),
			zap.Int64("position_id", int64(task.PositionID)),
			zap.Error(domain.ErrWorkerStopped))
		return false
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	select {
	case w.tasks <- task:
		w.statsMu.Lock()
		w.scheduled++
		w.statsMu.Unlock()
		metricTasksScheduled.WithLabelValues(string(task.Kind)).Inc()
		return true
	default:
		w.statsMu.Lock()
		w.dropped++
		w.statsMu.Unlock()
		metricTasksDropped.Inc()
		w.logger.Warn("update queue full, task dropped",
			zap.String("kind", string(task.Kind)),
			zap.Int64("position_id", int64(task.PositionID)),
			zap.Error(domain.ErrQueueFull))
		return false
	}
}

// Run consumes tasks until ctx is cancelled, then drains what is left
// within the drain timeout. A write in flight always runs to completion.
func (w *UpdateWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case task := <-w.tasks:
			w.process(task)
		case <-ctx.Done():
			w.closed.Store(true)
			w.drain()
			return
		}
	}
}

// Done is closed once Run has returned.
func (w *UpdateWorker) Done() <-chan struct{} { return w.done }

func (w *UpdateWorker) drain() {
	deadline := time.Now().Add(w.drainTimeout)
	for {
		select {
		case task := <-w.tasks:
			if time.Now().After(deadline) {
				abandoned := len(w.tasks) + 1
				w.logger.Warn("drain timeout, abandoning queued tasks",
					zap.Int("abandoned", abandoned))
				return
			}
			w.process(task)
		default:
			return
		}
	}
}

func (w *UpdateWorker) process(task domain.UpdateTask) {
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	err := w.apply(ctx, task)
	cancel()

	if err != nil {
		w.retry(task, err)
		return
	}

	w.recordCompletion(task)

	if task.OnSuccess != nil {
		w.runCallback(task)
	}
}

// runCallback isolates the success callback: a panic in it is logged
// and never fails the write it was attached to.
func (w *UpdateWorker) runCallback(task domain.UpdateTask) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task success callback panicked",
				zap.String("kind", string(task.Kind)),
				zap.Int64("position_id", int64(task.PositionID)),
				zap.Any("panic", r))
		}
	}()
	task.OnSuccess()
}

func (w *UpdateWorker) retry(task domain.UpdateTask, cause error) {
	// Attempt counts re-enqueues; a task is applied at most maxRetries+1 times.
	if task.Attempt >= w.maxRetries {
		w.statsMu.Lock()
		w.failed++
		w.statsMu.Unlock()
		metricTasksFailed.Inc()
		w.logger.Error("permanent write failure, task abandoned",
			zap.String("kind", string(task.Kind)),
			zap.Int64("position_id", int64(task.PositionID)),
			zap.Int("attempts", task.Attempt+1),
			zap.Error(cause))
		return
	}

	next := task.Retry()
	select {
	case w.tasks <- next:
		w.statsMu.Lock()
		w.retried++
		w.statsMu.Unlock()
		w.logger.Warn("store write failed, task re-enqueued",
			zap.String("kind", string(task.Kind)),
			zap.Int64("position_id", int64(task.PositionID)),
			zap.Int("attempt", next.Attempt),
			zap.Error(cause))
	default:
		w.statsMu.Lock()
		w.failed++
		w.statsMu.Unlock()
		metricTasksFailed.Inc()
		w.logger.Error("queue full during retry, task abandoned",
			zap.String("kind", string(task.Kind)),
			zap.Int64("position_id", int64(task.PositionID)),
			zap.Error(cause))
	}
}

func (w *UpdateWorker) recordCompletion(task domain.UpdateTask) {
	latency := time.Since(task.EnqueuedAt)
	metricTasksCompleted.WithLabelValues(string(task.Kind)).Inc()
	metricTaskLatency.Observe(latency.Seconds())

	w.statsMu.Lock()
	w.completed++
	w.latencySum += latency
	if w.latencyMin == 0 || latency < w.latencyMin {
		w.latencyMin = latency
	}
	if latency > w.latencyMax {
		w.latencyMax = latency
	}
	w.statsMu.Unlock()
}

// apply dispatches by kind. The switch is exhaustive over TaskKind; an
// unknown kind is a programming error surfaced as a permanent failure.
func (w *UpdateWorker) apply(ctx context.Context, task domain.UpdateTask) error {
	switch task.Kind {
	case domain.TaskPositionFill:
		if task.Fill == nil {
			return fmt.Errorf("task %s without fill payload", task.Kind)
		}
		return w.positions.UpdatePositionFill(ctx, task.PositionID, task.Fill)

	case domain.TaskPositionExit:
		if task.Exit == nil {
			return fmt.Errorf("task %s without exit payload", task.Kind)
		}
		return w.positions.UpdatePositionExit(ctx, task.PositionID, task.Exit)

	case domain.TaskRiskState, domain.TaskPeakUpdate, domain.TaskTrailingActivation, domain.TaskProtectionUpdate:
		if task.Risk == nil {
			return fmt.Errorf("task %s without risk payload", task.Kind)
		}
		return w.risks.UpsertRiskState(ctx, task.Risk)

	case domain.TaskPositionStatus:
		if task.Status == nil {
			return fmt.Errorf("task %s without status payload", task.Kind)
		}
		return w.positions.UpdatePositionStatus(ctx, task.PositionID, task.Status)

	case domain.TaskGroupStatus:
		if task.GroupStatus == nil {
			return fmt.Errorf("task %s without group payload", task.Kind)
		}
		return w.groups.UpdateGroupStatus(ctx, task.GroupStatus.GroupRow, task.GroupStatus.Status, task.GroupStatus.Time)

	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (w *UpdateWorker) Stats() WorkerStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	stats := WorkerStats{
		Scheduled:  w.scheduled,
		Dropped:    w.dropped,
		Completed:  w.completed,
		Failed:     w.failed,
		Retried:    w.retried,
		QueueLen:   len(w.tasks),
		MinLatency: w.latencyMin,
		MaxLatency: w.latencyMax,
	}
	if w.completed > 0 {
		stats.AvgLatency = w.latencySum / time.Duration(w.completed)
	}
	return stats
}

func (w *UpdateWorker) QueueLen() int { return len(w.tasks) }
