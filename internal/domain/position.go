package domain

import "time"

// PositionID is the storage primary key of a position row.
type PositionID int64

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

type PositionStatus string

const (
	// PositionPending covers the window between order submission and the
	// entry fill. A record is never ACTIVE without an entry price.
	PositionPending PositionStatus = "PENDING"
	PositionActive  PositionStatus = "ACTIVE"
	PositionExited  PositionStatus = "EXITED"
	PositionFailed  PositionStatus = "FAILED"
)

// Exit reasons recorded on close.
const (
	ExitReasonStop       = "STOP_LOSS"
	ExitReasonTrailing   = "TRAILING_STOP"
	ExitReasonProtective = "PROTECTIVE_STOP"
	ExitReasonReconcile  = "RECONCILE"
	ExitReasonManual     = "MANUAL"
)

// MaxPositionRetries bounds the entry retry counter.
const MaxPositionRetries = 5

// PositionRecord is one lot of a strategy group. Records are never
// deleted, only transitioned.
type PositionRecord struct {
	ID        PositionID
	GroupRow  GroupRowID
	GroupNo   GroupNo
	LotIndex  int
	Direction Direction

	EntryPrice *float64
	EntryTime  *time.Time

	ExitPrice  *float64
	ExitTime   *time.Time
	ExitReason string

	RealizedPnL float64

	OrderID     string
	ExchangeSeq int64
	OrderStatus OrderStatus
	Status      PositionStatus

	RetryCount     int
	SlippageBudget float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the lot still needs risk monitoring.
func (p *PositionRecord) Open() bool {
	return p.Status == PositionActive
}

// Terminal reports whether the lot has reached a final state.
func (p *PositionRecord) Terminal() bool {
	return p.Status == PositionExited || p.Status == PositionFailed
}

// PnLAt computes realized profit in price points for a close at price.
// Returns 0 when the entry fill has not been confirmed.
func (p *PositionRecord) PnLAt(price float64) float64 {
	if p.EntryPrice == nil {
		return 0
	}
	if p.Direction == DirectionLong {
		return price - *p.EntryPrice
	}
	return *p.EntryPrice - price
}
