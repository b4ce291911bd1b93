package domain

import "time"

// TaskKind selects which payload an UpdateTask carries and which store
// mutation the update worker applies.
type TaskKind string

const (
	TaskPositionFill       TaskKind = "position_fill"
	TaskPositionExit       TaskKind = "position_exit"
	TaskRiskState          TaskKind = "risk_state"
	TaskPeakUpdate         TaskKind = "peak_update"
	TaskTrailingActivation TaskKind = "trailing_activation"
	TaskProtectionUpdate   TaskKind = "protection_update"
	TaskPositionStatus     TaskKind = "position_status"
	TaskGroupStatus        TaskKind = "group_status"
)

// MaxTaskRetries bounds worker re-application of a failing task.
const MaxTaskRetries = 3

// FillUpdate confirms an entry fill.
type FillUpdate struct {
	OrderID string
	Price   float64
	Qty     float64
	Time    time.Time
}

// ExitUpdate closes a position.
type ExitUpdate struct {
	Price  float64
	Time   time.Time
	Reason string
	PnL    float64
}

// StatusUpdate transitions lifecycle and order status.
type StatusUpdate struct {
	Status      PositionStatus
	OrderStatus OrderStatus
	RetryCount  int
	Time        time.Time
}

// GroupStatusUpdate advances a group's lifecycle status.
type GroupStatusUpdate struct {
	GroupRow GroupRowID
	Status   GroupStatus
	Time     time.Time
}

// UpdateTask is one unit of write-behind work. Tasks are treated as
// immutable: a retry is a copy with Attempt incremented, never a shared
// object with a mutable counter. Exactly one payload matching Kind is set.
type UpdateTask struct {
	Kind       TaskKind
	PositionID PositionID
	EnqueuedAt time.Time
	Attempt    int

	Fill        *FillUpdate
	Exit        *ExitUpdate
	Risk        *RiskState
	Status      *StatusUpdate
	GroupStatus *GroupStatusUpdate

	// OnSuccess runs synchronously after the store write succeeds and
	// before the next task is processed. Failures inside it are logged
	// and never fail the write it is attached to.
	OnSuccess func()
}

// Retry returns a copy of the task with the attempt count advanced.
func (t UpdateTask) Retry() UpdateTask {
	c := t
	c.Attempt++
	return c
}
