package domain

import "errors"

var (
	ErrGroupNotFound     = errors.New("strategy group not found")
	ErrPositionNotFound  = errors.New("position not found")
	ErrRiskStateNotFound = errors.New("risk state not found")

	// ErrUnknownGroup is returned when a position would reference a group
	// that does not exist. The engine refuses the operation instead of
	// coercing the identifier.
	ErrUnknownGroup = errors.New("position references unknown group")

	ErrDuplicateLot = errors.New("lot index already exists in group")

	// ErrQueueFull is surfaced when the update worker queue rejects a task.
	ErrQueueFull = errors.New("update queue full, task dropped")

	ErrWorkerStopped = errors.New("update worker stopped")

	ErrRetryBudgetExhausted = errors.New("position retry budget exhausted")
)
