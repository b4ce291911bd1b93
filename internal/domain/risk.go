package domain

import "time"

// RiskPhase is the per-position risk lifecycle. Transitions are
// monotonic: INITIAL -> TRAILING_ARMED -> PROTECTED, never backward.
type RiskPhase string

const (
	RiskInitial       RiskPhase = "INITIAL"
	RiskTrailingArmed RiskPhase = "TRAILING_ARMED"
	RiskProtected     RiskPhase = "PROTECTED"
)

// Risk update audit categories.
const (
	RiskCategoryInit       = "INIT"
	RiskCategoryPeak       = "PEAK"
	RiskCategoryTrailing   = "TRAILING"
	RiskCategoryProtection = "PROTECTION"
)

// RiskState is the live risk picture of one active position.
// PeakPrice never regresses against the favorable direction and
// StopLoss only ever tightens once trailing or protection is active.
type RiskState struct {
	PositionID       PositionID
	Phase            RiskPhase
	PeakPrice        float64
	StopLoss         float64
	PrevStopLoss     float64
	TrailingActive   bool
	ProtectionActive bool
	LastUpdate       time.Time
	UpdateCategory   string
	UpdateMessage    string
}

// StopHit reports whether price has crossed the stop for the given side.
// A zero stop means no stop is armed yet.
func (r *RiskState) StopHit(dir Direction, price float64) bool {
	if r.StopLoss == 0 {
		return false
	}
	if dir == DirectionLong {
		return price <= r.StopLoss
	}
	return price >= r.StopLoss
}

// Tighter reports whether candidate is a strictly tighter stop than the
// current one for the given side. Stops only move toward price.
func (r *RiskState) Tighter(dir Direction, candidate float64) bool {
	if r.StopLoss == 0 {
		return candidate != 0
	}
	if dir == DirectionLong {
		return candidate > r.StopLoss
	}
	return candidate < r.StopLoss
}

// RuleConfig carries the per-position risk parameters supplied by the
// signal layer with openPosition. Distances are in price points.
type RuleConfig struct {
	InitialStop        float64 `yaml:"initial_stop" json:"initial_stop"`
	TrailingActivation float64 `yaml:"trailing_activation" json:"trailing_activation"`
	TrailingDistance   float64 `yaml:"trailing_distance" json:"trailing_distance"`
	SlippageBudget     float64 `yaml:"slippage_budget" json:"slippage_budget"`
}
