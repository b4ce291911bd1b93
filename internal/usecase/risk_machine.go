package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

// RiskMachine evaluates price ticks against cached risk state and
// decides peak updates, trailing-stop activation and protective-stop
// tightening. Every transition is written to the state cache
// synchronously and persisted through the update worker asynchronously.
// Phase moves INITIAL -> TRAILING_ARMED -> PROTECTED only; stops only
// ever tighten.
type RiskMachine struct {
	cache  *StateCache
	worker *UpdateWorker
	logger *zap.Logger

	// The cache mutex covers single reads and writes, not the
	// read-modify-write cycle. Protective updates arrive on the worker's
	// callback goroutine while ticks run on the market-data thread, so
	// each position's cycle is serialized with its own mutex.
	mu    sync.Mutex
	locks map[domain.PositionID]*sync.Mutex
}

func NewRiskMachine(cache *StateCache, worker *UpdateWorker, logger *zap.Logger) *RiskMachine {
	return &RiskMachine{
		cache:  cache,
		worker: worker,
		logger: logger,
		locks:  make(map[domain.PositionID]*sync.Mutex),
	}
}

func (r *RiskMachine) lockFor(id domain.PositionID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Forget drops the per-position mutex once the position is terminal.
func (r *RiskMachine) Forget(id domain.PositionID) {
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
}

// InitState creates the risk state for a freshly filled position: peak
// at the entry price, stop at the configured initial stop.
func (r *RiskMachine) InitState(pos domain.PositionRecord, rule domain.RuleConfig, entryPrice float64, now time.Time) domain.RiskState {
	l := r.lockFor(pos.ID)
	l.Lock()
	defer l.Unlock()

	stop := rule.InitialStop
	rs := domain.RiskState{
		PositionID:     pos.ID,
		Phase:          domain.RiskInitial,
		PeakPrice:      entryPrice,
		StopLoss:       stop,
		LastUpdate:     now,
		UpdateCategory: domain.RiskCategoryInit,
		UpdateMessage:  fmt.Sprintf("entry %.2f stop %.2f", entryPrice, stop),
	}

	r.cache.PutRisk(rs)
	r.schedule(domain.TaskRiskState, rs)
	return rs
}

// OnTick advances the risk state for one price observation. Returns the
// resulting state and whether the stop has been crossed. Runs on the
// market-data callback thread: cache reads/writes and task enqueues
// only, no store I/O.
func (r *RiskMachine) OnTick(pos domain.PositionRecord, rule domain.RuleConfig, price float64, now time.Time) (domain.RiskState, bool) {
	l := r.lockFor(pos.ID)
	l.Lock()
	defer l.Unlock()

	rs, ok := r.cache.GetRisk(pos.ID)
	if !ok {
		// No risk state before the entry fill is confirmed.
		return domain.RiskState{}, false
	}
	if pos.EntryPrice == nil {
		return rs, false
	}

	peakImproved := false
	if pos.Direction == domain.DirectionLong {
		peakImproved = price > rs.PeakPrice
	} else {
		peakImproved = price < rs.PeakPrice
	}

	if peakImproved {
		rs.PeakPrice = price
		rs.LastUpdate = now
		rs.UpdateCategory = domain.RiskCategoryPeak
		rs.UpdateMessage = fmt.Sprintf("peak %.2f", price)
	}

	// Arm trailing once favorable excursion reaches the activation
	// distance. Arming never regresses.
	armedNow := false
	if !rs.TrailingActive {
		excursion := rs.PeakPrice - *pos.EntryPrice
		if pos.Direction == domain.DirectionShort {
			excursion = *pos.EntryPrice - rs.PeakPrice
		}
		if rule.TrailingActivation > 0 && excursion >= rule.TrailingActivation {
			rs.TrailingActive = true
			armedNow = true
			if rs.Phase == domain.RiskInitial {
				rs.Phase = domain.RiskTrailingArmed
			}
			rs.LastUpdate = now
			rs.UpdateCategory = domain.RiskCategoryTrailing
		}
	}

	// A floating stop follows the peak at the trailing distance,
	// applied only when it is tighter than the current stop.
	trailingMoved := false
	if rs.TrailingActive && rule.TrailingDistance > 0 {
		candidate := rs.PeakPrice - rule.TrailingDistance
		if pos.Direction == domain.DirectionShort {
			candidate = rs.PeakPrice + rule.TrailingDistance
		}
		if rs.Tighter(pos.Direction, candidate) {
			rs.PrevStopLoss = rs.StopLoss
			rs.StopLoss = candidate
			rs.LastUpdate = now
			rs.UpdateCategory = domain.RiskCategoryTrailing
			rs.UpdateMessage = fmt.Sprintf("trailing stop %.2f behind peak %.2f", candidate, rs.PeakPrice)
			trailingMoved = true
		}
	}

	switch {
	case armedNow:
		r.cache.PutRisk(rs)
		r.schedule(domain.TaskTrailingActivation, rs)
	case trailingMoved:
		r.cache.PutRisk(rs)
		r.schedule(domain.TaskRiskState, rs)
	case peakImproved:
		r.cache.PutRisk(rs)
		r.schedule(domain.TaskPeakUpdate, rs)
	}

	return rs, rs.StopHit(pos.Direction, price)
}

// ApplyProtection tightens the stop to break-even plus the realized
// surplus of exited sibling lots. When the candidate is looser than the
// current (trailing) stop, the trailing stop wins and nothing changes.
func (r *RiskMachine) ApplyProtection(pos domain.PositionRecord, surplus float64, now time.Time) (domain.RiskState, bool) {
	l := r.lockFor(pos.ID)
	l.Lock()
	defer l.Unlock()

	rs, ok := r.cache.GetRisk(pos.ID)
	if !ok || pos.EntryPrice == nil || surplus <= 0 {
		return rs, false
	}

	candidate := *pos.EntryPrice + surplus
	if pos.Direction == domain.DirectionShort {
		candidate = *pos.EntryPrice - surplus
	}

	if !rs.Tighter(pos.Direction, candidate) {
		return rs, false
	}

	rs.PrevStopLoss = rs.StopLoss
	rs.StopLoss = candidate
	rs.Phase = domain.RiskProtected
	rs.ProtectionActive = true
	rs.LastUpdate = now
	rs.UpdateCategory = domain.RiskCategoryProtection
	rs.UpdateMessage = fmt.Sprintf("protective stop %.2f, group surplus %.2f", candidate, surplus)

	r.cache.PutRisk(rs)
	r.schedule(domain.TaskProtectionUpdate, rs)

	r.logger.Info("protective stop applied",
		zap.Int64("position_id", int64(pos.ID)),
		zap.Float64("stop", candidate),
		zap.Float64("surplus", surplus))
	return rs, true
}

func (r *RiskMachine) schedule(kind domain.TaskKind, rs domain.RiskState) {
	snapshot := rs
	r.worker.Schedule(domain.UpdateTask{
		Kind:       kind,
		PositionID: rs.PositionID,
		Risk:       &snapshot,
	})
}
