package usecase

import (
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

type exitLock struct {
	source     string
	acquiredAt time.Time
}

// ExitCoordinator serializes exit decisions per position. However many
// evaluators fire for the same position (trailing stop, protective stop,
// reconciliation), at most one acquires the lock and submits an order;
// the rest are denied and skip their tick. The lock is the only thing in
// the engine held across an asynchronous boundary (order submission to
// fill confirmation), so its timeout is explicit and must be configured
// no shorter than a gateway round trip.
type ExitCoordinator struct {
	mu      sync.Mutex
	locks   map[domain.PositionID]exitLock
	timeout time.Duration
	logger  *zap.Logger
}

func NewExitCoordinator(timeout time.Duration, logger *zap.Logger) *ExitCoordinator {
	return &ExitCoordinator{
		locks:   make(map[domain.PositionID]exitLock),
		timeout: timeout,
		logger:  logger,
	}
}

// TryAcquire grants the exit lock for the position, or denies it when a
// non-expired lock is already held. A denied caller must not retry in a
// loop; the in-flight exit drives the position to a terminal state.
func (c *ExitCoordinator) TryAcquire(id domain.PositionID, source string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.locks[id]; ok {
		if now.Sub(held.acquiredAt) < c.timeout {
			metricExitLocks.WithLabelValues("denied").Inc()
			c.logger.Debug("exit already in progress",
				zap.Int64("position_id", int64(id)),
				zap.String("holder", held.source),
				zap.String("denied", source))
			return false
		}
		// An expired lock means the prior exit never reported an outcome.
		// Taking it over is the recovery path, but it is loud: if this
		// fires regularly the timeout is shorter than the gateway round
		// trip and duplicate exits become possible.
		c.logger.Warn("exit lock expired, taking over",
			zap.Int64("position_id", int64(id)),
			zap.String("stale_holder", held.source),
			zap.Duration("held_for", now.Sub(held.acquiredAt)),
			zap.String("new_holder", source))
	}

	c.locks[id] = exitLock{source: source, acquiredAt: now}
	metricExitLocks.WithLabelValues("granted").Inc()
	return true
}

// Release frees the lock once the exit outcome (filled, rejected or
// timed out) is known. Releasing an unheld lock is a no-op.
func (c *ExitCoordinator) Release(id domain.PositionID) {
	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()
}

// Locked reports whether a live, non-expired lock is held.
func (c *ExitCoordinator) Locked(id domain.PositionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.locks[id]
	return ok && time.Since(held.acquiredAt) < c.timeout
}

// Holder returns the trigger source currently holding the lock.
func (c *ExitCoordinator) Holder(id domain.PositionID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.locks[id]
	if !ok {
		return "", false
	}
	return held.source, true
}
