package domain

import (
	"context"
	"time"
)

// GroupRepository defines storage operations for strategy groups.
type GroupRepository interface {
	CreateGroup(ctx context.Context, g *StrategyGroup) error
	GetGroup(ctx context.Context, id GroupRowID) (*StrategyGroup, error)
	GetGroupByNo(ctx context.Context, no GroupNo) (*StrategyGroup, error)
	ListGroups(ctx context.Context) ([]*StrategyGroup, error)

	// UpdateGroupStatus is idempotent: a write with an older updatedAt
	// than the stored row is a no-op.
	UpdateGroupStatus(ctx context.Context, id GroupRowID, status GroupStatus, updatedAt time.Time) error
}

// PositionRepository defines storage operations for position records.
type PositionRepository interface {
	CreatePosition(ctx context.Context, p *PositionRecord) error
	GetPosition(ctx context.Context, id PositionID) (*PositionRecord, error)
	ListActivePositions(ctx context.Context) ([]*PositionRecord, error)
	ListPositionsByGroup(ctx context.Context, id GroupRowID) ([]*PositionRecord, error)

	UpdatePositionFill(ctx context.Context, id PositionID, fill *FillUpdate) error
	UpdatePositionExit(ctx context.Context, id PositionID, exit *ExitUpdate) error
	UpdatePositionStatus(ctx context.Context, id PositionID, st *StatusUpdate) error

	// SumRealizedPnL returns the cumulative realized profit of all EXITED
	// lots in the group, in price points. Re-queried per exit event so the
	// store stays the source of truth for protective-stop propagation.
	SumRealizedPnL(ctx context.Context, id GroupRowID) (float64, error)
	CountOpenLots(ctx context.Context, id GroupRowID) (int, error)
}

// RiskRepository defines storage operations for risk states.
type RiskRepository interface {
	// UpsertRiskState applies last-writer-wins by LastUpdate: a write
	// carrying an older timestamp than the stored row is a no-op.
	UpsertRiskState(ctx context.Context, rs *RiskState) error
	GetRiskState(ctx context.Context, id PositionID) (*RiskState, error)
}

// OrderHint tells the gateway how to price an exit order.
type OrderHint string

const (
	HintMarket OrderHint = "MARKET"
	HintLimit  OrderHint = "LIMIT"
)

// BrokerGateway is the outbound boundary to the order gateway. The
// gateway calls back into the engine with fills and rejections; the
// engine makes exactly one outbound call. The engine supplies the
// client order id so the fill matcher can be armed before submission
// and a zero-latency fill still resolves.
type BrokerGateway interface {
	SubmitExitOrder(ctx context.Context, orderID string, id PositionID, dir Direction, qty float64, hint OrderHint) error
}
