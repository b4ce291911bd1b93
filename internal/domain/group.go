package domain

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// GroupNo is the logical group number assigned by the signal layer,
// unique within one trading day. It is NOT the storage key.
type GroupNo int

// GroupRowID is the storage primary key of a strategy group row.
// Kept as a separate type so a logical number can never be passed
// where a row id is expected, or the other way around.
type GroupRowID int64

type GroupStatus string

const (
	GroupWaiting   GroupStatus = "WAITING"
	GroupActive    GroupStatus = "ACTIVE"
	GroupCompleted GroupStatus = "COMPLETED"
	GroupCancelled GroupStatus = "CANCELLED"
)

// StrategyGroup is one multi-lot entry decision. The engine only ever
// advances its status; everything else is written once by the signal layer.
type StrategyGroup struct {
	RowID      GroupRowID
	GroupNo    GroupNo
	Direction  Direction
	SignalTime time.Time
	RangeHigh  float64
	RangeLow   float64
	LotCount   int
	Status     GroupStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var groupStatusRank = map[GroupStatus]int{
	GroupWaiting:   0,
	GroupActive:    1,
	GroupCompleted: 2,
	GroupCancelled: 2,
}

// CanAdvanceTo reports whether a status transition moves forward.
// Group status is monotonic; a completed or cancelled group never reopens.
func (s GroupStatus) CanAdvanceTo(next GroupStatus) bool {
	cur, ok := groupStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := groupStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}
