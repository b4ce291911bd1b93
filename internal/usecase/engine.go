package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

// Config is the engine configuration surface.
type Config struct {
	QueueCapacity      int           `yaml:"queue_capacity"`
	CacheMaxAge        time.Duration `yaml:"cache_max_age"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	ExitLockTimeout    time.Duration `yaml:"exit_lock_timeout"`
	MaxTaskRetries     int           `yaml:"max_task_retries"`
	MaxPositionRetries int           `yaml:"max_position_retries"`
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`

	DefaultRule domain.RuleConfig `yaml:"default_rule"`
}

// Validate fills defaults and rejects an unset exit-lock timeout.
// There is no safe universal default for it: shorter than a gateway
// round trip and duplicate exits become possible.
func (c *Config) Validate() error {
	if c.ExitLockTimeout <= 0 {
		return fmt.Errorf("exit_lock_timeout must be set to at least one gateway round trip")
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = 2 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.MaxTaskRetries <= 0 {
		c.MaxTaskRetries = domain.MaxTaskRetries
	}
	if c.MaxPositionRetries <= 0 {
		c.MaxPositionRetries = domain.MaxPositionRetries
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Second
	}
	return nil
}

// Engine owns the state cache, the update queue and the exit lock
// table, and wires the risk machine, exit coordinator and fill matcher
// together. Construct one per process and start it explicitly; nothing
// here is a global.
type Engine struct {
	cfg Config

	groups    domain.GroupRepository
	positions domain.PositionRepository
	risks     domain.RiskRepository
	gateway   domain.BrokerGateway

	cache   *StateCache
	worker  *UpdateWorker
	risk    *RiskMachine
	exits   *ExitCoordinator
	matcher *FillMatcher
	logger  *zap.Logger

	mu          sync.RWMutex
	active      map[domain.PositionID]struct{}
	groupLots   map[domain.GroupRowID][]domain.PositionID
	groupsByNo  map[domain.GroupNo]domain.StrategyGroup
	groupsByRow map[domain.GroupRowID]domain.GroupNo

	lastPrice atomic.Uint64 // float64 bits; engine tracks one instrument

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(
	cfg Config,
	groups domain.GroupRepository,
	positions domain.PositionRepository,
	risks domain.RiskRepository,
	gateway domain.BrokerGateway,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache := NewStateCache(cfg.CacheMaxAge, cfg.CleanupInterval, logger)
	worker := NewUpdateWorker(cfg.QueueCapacity, cfg.MaxTaskRetries, groups, positions, risks, logger)

	e := &Engine{
		cfg:         cfg,
		groups:      groups,
		positions:   positions,
		risks:       risks,
		gateway:     gateway,
		cache:       cache,
		worker:      worker,
		risk:        NewRiskMachine(cache, worker, logger),
		exits:       NewExitCoordinator(cfg.ExitLockTimeout, logger),
		matcher:     NewFillMatcher(logger),
		logger:      logger,
		active:      make(map[domain.PositionID]struct{}),
		groupLots:   make(map[domain.GroupRowID][]domain.PositionID),
		groupsByNo:  make(map[domain.GroupNo]domain.StrategyGroup),
		groupsByRow: make(map[domain.GroupRowID]domain.GroupNo),
	}
	return e, nil
}

// Start recovers state from the store and launches the worker, the
// cache sweeper and the reconciliation loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.worker.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.cache.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.reconcileLoop(runCtx)
	}()

	e.logger.Info("engine started",
		zap.Int("active_positions", len(e.active)),
		zap.Int("queue_capacity", e.cfg.QueueCapacity),
		zap.Duration("exit_lock_timeout", e.cfg.ExitLockTimeout))
	return nil
}

// Stop shuts the engine down: no new tasks, drain with a bounded
// timeout, abandon the remainder with a log line.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped", zap.Any("worker_stats", e.worker.Stats()))
}

// recover warms the cache from the store so ticks can be served before
// the first write-behind round trip.
func (e *Engine) recover(ctx context.Context) error {
	groups, err := e.groups.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		e.indexGroup(*g)
	}

	open, err := e.positions.ListActivePositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		e.cache.PutPosition(*p)
		e.cache.PutRule(p.ID, e.cfg.DefaultRule)
		e.indexPosition(p.GroupRow, p.ID)

		if p.Status == domain.PositionPending {
			// The entry order was outstanding when the process died;
			// track it again so a late fill still matches.
			e.matcher.Track(PendingOrder{
				OrderID:    p.OrderID,
				PositionID: p.ID,
				GroupNo:    p.GroupNo,
				Direction:  p.Direction,
				Purpose:    PurposeEntry,
			})
			continue
		}

		rs, err := e.risks.GetRiskState(ctx, p.ID)
		if err == nil {
			e.cache.PutRisk(*rs)
		} else {
			e.logger.Warn("active position without risk state",
				zap.Int64("position_id", int64(p.ID)), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) indexGroup(g domain.StrategyGroup) {
	e.mu.Lock()
	e.groupsByNo[g.GroupNo] = g
	e.groupsByRow[g.RowID] = g.GroupNo
	e.mu.Unlock()
}

func (e *Engine) indexPosition(row domain.GroupRowID, id domain.PositionID) {
	e.mu.Lock()
	e.active[id] = struct{}{}
	e.groupLots[row] = append(e.groupLots[row], id)
	e.mu.Unlock()
}

// RegisterGroup records a new breakout decision from the signal layer.
func (e *Engine) RegisterGroup(ctx context.Context, g *domain.StrategyGroup) error {
	if err := e.groups.CreateGroup(ctx, g); err != nil {
		return err
	}
	e.indexGroup(*g)
	e.logger.Info("group registered",
		zap.Int("group_no", int(g.GroupNo)),
		zap.String("direction", string(g.Direction)),
		zap.Int("lots", g.LotCount))
	return nil
}

// OpenPosition creates one lot for an existing group and tracks its
// entry order. Called by the signal layer; the broker carries the order.
// An unknown group is refused loudly, never coerced.
func (e *Engine) OpenPosition(ctx context.Context, no domain.GroupNo, lotIndex int, dir domain.Direction, rule domain.RuleConfig) (*domain.PositionRecord, error) {
	e.mu.RLock()
	group, ok := e.groupsByNo[no]
	e.mu.RUnlock()
	if !ok {
		g, err := e.groups.GetGroupByNo(ctx, no)
		if err != nil {
			return nil, fmt.Errorf("open lot %d: group %d: %w", lotIndex, no, domain.ErrUnknownGroup)
		}
		group = *g
		e.indexGroup(group)
	}
	if group.Direction != dir {
		return nil, fmt.Errorf("lot direction %s contradicts group %d direction %s", dir, no, group.Direction)
	}

	p := &domain.PositionRecord{
		GroupRow:       group.RowID,
		GroupNo:        no,
		LotIndex:       lotIndex,
		Direction:      dir,
		OrderID:        OrderTag(no, dir, uuid.NewString()),
		OrderStatus:    domain.OrderPending,
		Status:         domain.PositionPending,
		SlippageBudget: rule.SlippageBudget,
	}
	if err := e.positions.CreatePosition(ctx, p); err != nil {
		return nil, err
	}

	e.cache.PutPosition(*p)
	e.cache.PutRule(p.ID, rule)
	e.indexPosition(group.RowID, p.ID)
	e.matcher.Track(PendingOrder{
		OrderID:    p.OrderID,
		PositionID: p.ID,
		GroupNo:    no,
		Direction:  dir,
		Purpose:    PurposeEntry,
	})

	e.logger.Info("position opened",
		zap.Int64("position_id", int64(p.ID)),
		zap.Int("group_no", int(no)),
		zap.Int("lot", lotIndex),
		zap.String("order_id", p.OrderID))
	return p, nil
}

func (e *Engine) storeLastPrice(price float64) {
	e.lastPrice.Store(math.Float64bits(price))
}

// LastPrice returns the most recent tick seen by the engine.
func (e *Engine) LastPrice() float64 {
	return math.Float64frombits(e.lastPrice.Load())
}

// OnTick runs on the market-data callback thread. It touches the state
// cache and the task queue only; any store write happens behind the
// update worker and any exit goes through the coordinator.
func (e *Engine) OnTick(price float64, now time.Time) {
	e.storeLastPrice(price)

	e.mu.RLock()
	ids := make([]domain.PositionID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		pos, ok := e.cache.GetPosition(id)
		if !ok || !pos.Open() {
			continue
		}
		rule := e.ruleFor(id)

		rs, stopHit := e.risk.OnTick(pos, rule, price, now)
		if !stopHit {
			continue
		}
		e.TriggerExit(pos, exitReasonFor(rs))
	}
}

func exitReasonFor(rs domain.RiskState) string {
	switch rs.Phase {
	case domain.RiskProtected:
		return domain.ExitReasonProtective
	case domain.RiskTrailingArmed:
		return domain.ExitReasonTrailing
	default:
		return domain.ExitReasonStop
	}
}

func (e *Engine) ruleFor(id domain.PositionID) domain.RuleConfig {
	if rule, ok := e.cache.GetRule(id); ok {
		return rule
	}
	return e.cfg.DefaultRule
}

// TriggerExit submits at most one exit order for the position. Denied
// acquisition means an exit is already in flight and this trigger is
// simply skipped. The lock stays held across the submission round trip
// and is released when the broker reports an outcome (or on failure to
// submit, via the deferred release).
func (e *Engine) TriggerExit(pos domain.PositionRecord, reason string) bool {
	if !e.exits.TryAcquire(pos.ID, reason) {
		return false
	}

	submitted := false
	defer func() {
		if !submitted {
			e.exits.Release(pos.ID)
		}
	}()

	// The caller's snapshot can predate an exit that already completed
	// and freed the lock. Only the cached state read after acquisition
	// decides; confirmExit writes EXITED before it releases, so a stale
	// trigger lands here and backs off.
	current, ok := e.cache.GetPosition(pos.ID)
	if !ok || !current.Open() {
		return false
	}

	// Track before submitting: a gateway that fills synchronously
	// reaches OnOrderFilled while this call is still on the stack.
	orderID := OrderTag(current.GroupNo, current.Direction, uuid.NewString())
	e.matcher.Track(PendingOrder{
		OrderID:    orderID,
		PositionID: current.ID,
		GroupNo:    current.GroupNo,
		Direction:  current.Direction,
		Purpose:    PurposeExit,
		Reason:     reason,
	})

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ExitLockTimeout)
	defer cancel()

	if err := e.gateway.SubmitExitOrder(ctx, orderID, current.ID, current.Direction, 1, domain.HintMarket); err != nil {
		e.matcher.Untrack(orderID)
		e.logger.Error("exit order submission failed",
			zap.Int64("position_id", int64(current.ID)),
			zap.String("reason", reason),
			zap.Error(err))
		return false
	}

	metricExitsSubmitted.WithLabelValues(reason).Inc()
	e.logger.Info("exit order submitted",
		zap.Int64("position_id", int64(current.ID)),
		zap.String("reason", reason),
		zap.String("order_id", orderID))

	submitted = true
	return true
}

// OnOrderFilled is the inbound broker callback for fills.
func (e *Engine) OnOrderFilled(orderID string, price, qty float64, ts time.Time) {
	po, ok := e.matcher.Match(orderID)
	if !ok {
		e.logger.Error("unmatched fill, gateway and engine out of sync",
			zap.String("order_id", orderID),
			zap.Float64("price", price),
			zap.Float64("qty", qty))
		return
	}

	switch po.Purpose {
	case PurposeEntry:
		e.confirmEntry(po, price, qty, ts)
	case PurposeExit:
		e.confirmExit(po, price, ts)
	}
}

func (e *Engine) confirmEntry(po PendingOrder, price, qty float64, ts time.Time) {
	pos, ok := e.cache.GetPosition(po.PositionID)
	if !ok {
		e.logger.Error("entry fill for uncached position",
			zap.Int64("position_id", int64(po.PositionID)))
		return
	}

	pos.EntryPrice = &price
	pos.EntryTime = &ts
	pos.Status = domain.PositionActive
	pos.OrderStatus = domain.OrderFilled
	e.cache.PutPosition(pos)

	e.worker.Schedule(domain.UpdateTask{
		Kind:       domain.TaskPositionFill,
		PositionID: pos.ID,
		Fill:       &domain.FillUpdate{OrderID: po.OrderID, Price: price, Qty: qty, Time: ts},
	})

	e.risk.InitState(pos, e.ruleFor(pos.ID), price, ts)

	e.advanceGroup(pos.GroupRow, domain.GroupActive, ts)

	e.logger.Info("entry fill confirmed",
		zap.Int64("position_id", int64(pos.ID)),
		zap.Float64("price", price))
}

func (e *Engine) confirmExit(po PendingOrder, price float64, ts time.Time) {
	pos, ok := e.cache.GetPosition(po.PositionID)
	if !ok {
		e.logger.Error("exit fill for uncached position",
			zap.Int64("position_id", int64(po.PositionID)))
		e.exits.Release(po.PositionID)
		return
	}

	reason := po.Reason
	if reason == "" {
		reason = domain.ExitReasonManual
	}
	pnl := pos.PnLAt(price)

	pos.ExitPrice = &price
	pos.ExitTime = &ts
	pos.ExitReason = reason
	pos.RealizedPnL = pnl
	pos.Status = domain.PositionExited
	pos.OrderStatus = domain.OrderFilled
	e.cache.PutPosition(pos)

	groupRow := pos.GroupRow
	e.worker.Schedule(domain.UpdateTask{
		Kind:       domain.TaskPositionExit,
		PositionID: pos.ID,
		Exit:       &domain.ExitUpdate{Price: price, Time: ts, Reason: reason, PnL: pnl},
		// Protective propagation runs after the exit row is durable so
		// the store re-query sees this lot's realized profit.
		OnSuccess: func() { e.propagateProtection(groupRow, po.PositionID) },
	})

	e.exits.Release(pos.ID)
	e.retire(pos.ID)
	e.checkGroupDone(groupRow, ts)

	e.logger.Info("exit fill confirmed",
		zap.Int64("position_id", int64(pos.ID)),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("pnl", pnl))
}

// OnOrderRejectedOrCancelled is the inbound broker callback for orders
// that did not execute.
func (e *Engine) OnOrderRejectedOrCancelled(orderID, reason string) {
	po, ok := e.matcher.Match(orderID)
	if !ok {
		e.logger.Error("unmatched reject/cancel",
			zap.String("order_id", orderID),
			zap.String("reason", reason))
		return
	}

	if po.Purpose == PurposeExit {
		// Outcome known: the exit did not happen. Free the lock so the
		// next trigger can try again; the position stays active.
		e.exits.Release(po.PositionID)
		e.logger.Warn("exit order rejected, position remains active",
			zap.Int64("position_id", int64(po.PositionID)),
			zap.String("reason", reason))
		return
	}

	pos, ok := e.cache.GetPosition(po.PositionID)
	if !ok {
		return
	}

	pos.RetryCount++
	pos.OrderStatus = domain.OrderRejected
	now := time.Now()

	if pos.RetryCount > e.cfg.MaxPositionRetries {
		pos.Status = domain.PositionFailed
		e.cache.PutPosition(pos)
		e.retire(pos.ID)
		e.checkGroupDone(pos.GroupRow, now)
		e.logger.Error("entry abandoned, retry budget exhausted",
			zap.Int64("position_id", int64(pos.ID)),
			zap.Int("retries", pos.RetryCount),
			zap.Error(domain.ErrRetryBudgetExhausted))
	} else {
		e.cache.PutPosition(pos)
		e.logger.Warn("entry order rejected",
			zap.Int64("position_id", int64(pos.ID)),
			zap.String("reason", reason),
			zap.Int("retry_count", pos.RetryCount))
	}

	e.worker.Schedule(domain.UpdateTask{
		Kind:       domain.TaskPositionStatus,
		PositionID: pos.ID,
		Status: &domain.StatusUpdate{
			Status:      pos.Status,
			OrderStatus: pos.OrderStatus,
			RetryCount:  pos.RetryCount,
			Time:        now,
		},
	})
}

// ResubmitEntry tracks a fresh entry order for a rejected lot, within
// the retry budget. The signal layer drives the actual re-submission.
func (e *Engine) ResubmitEntry(ctx context.Context, id domain.PositionID) (string, error) {
	pos, ok := e.cache.GetPosition(id)
	if !ok {
		return "", domain.ErrPositionNotFound
	}
	if pos.Terminal() {
		return "", fmt.Errorf("position %d is terminal", id)
	}
	if pos.RetryCount > e.cfg.MaxPositionRetries {
		return "", domain.ErrRetryBudgetExhausted
	}

	pos.OrderID = OrderTag(pos.GroupNo, pos.Direction, uuid.NewString())
	pos.OrderStatus = domain.OrderPending
	e.cache.PutPosition(pos)
	e.matcher.Track(PendingOrder{
		OrderID:    pos.OrderID,
		PositionID: pos.ID,
		GroupNo:    pos.GroupNo,
		Direction:  pos.Direction,
		Purpose:    PurposeEntry,
	})

	e.worker.Schedule(domain.UpdateTask{
		Kind:       domain.TaskPositionStatus,
		PositionID: pos.ID,
		Status: &domain.StatusUpdate{
			Status:      pos.Status,
			OrderStatus: pos.OrderStatus,
			RetryCount:  pos.RetryCount,
			Time:        time.Now(),
		},
	})
	return pos.OrderID, nil
}

// propagateProtection re-queries the realized profit of exited lots
// (the store is the source of truth, not a running counter) and
// tightens every still-active sibling independently. No lock ever
// spans more than one position.
func (e *Engine) propagateProtection(row domain.GroupRowID, exited domain.PositionID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	surplus, err := e.positions.SumRealizedPnL(ctx, row)
	if err != nil {
		e.logger.Error("protective propagation query failed",
			zap.Int64("group_row", int64(row)), zap.Error(err))
		return
	}
	if surplus <= 0 {
		return
	}

	e.mu.RLock()
	siblings := make([]domain.PositionID, 0, len(e.groupLots[row]))
	for _, id := range e.groupLots[row] {
		if id != exited {
			siblings = append(siblings, id)
		}
	}
	e.mu.RUnlock()

	now := time.Now()
	for _, id := range siblings {
		pos, ok := e.cache.GetPosition(id)
		if !ok || !pos.Open() {
			continue
		}
		e.risk.ApplyProtection(pos, surplus, now)
	}
}

func (e *Engine) retire(id domain.PositionID) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
	e.risk.Forget(id)
}

// advanceGroup schedules a monotonic group status write.
func (e *Engine) advanceGroup(row domain.GroupRowID, status domain.GroupStatus, ts time.Time) {
	e.mu.Lock()
	no, ok := e.groupsByRow[row]
	if ok {
		g := e.groupsByNo[no]
		if !g.Status.CanAdvanceTo(status) {
			e.mu.Unlock()
			return
		}
		g.Status = status
		g.UpdatedAt = ts
		e.groupsByNo[no] = g
	}
	e.mu.Unlock()

	e.worker.Schedule(domain.UpdateTask{
		Kind:        domain.TaskGroupStatus,
		GroupStatus: &domain.GroupStatusUpdate{GroupRow: row, Status: status, Time: ts},
	})
}

// checkGroupDone completes the group once no lot is left open.
func (e *Engine) checkGroupDone(row domain.GroupRowID, ts time.Time) {
	e.mu.RLock()
	lots := append([]domain.PositionID(nil), e.groupLots[row]...)
	e.mu.RUnlock()

	for _, id := range lots {
		pos, ok := e.cache.GetPosition(id)
		if !ok || !pos.Terminal() {
			return
		}
	}
	e.advanceGroup(row, domain.GroupCompleted, ts)
}

// reconcileLoop periodically re-checks active positions against their
// stops using the last seen price. It is a third independent trigger
// source next to trailing and protective checks, and goes through the
// exit coordinator like everything else.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcile()
		}
	}
}

func (e *Engine) reconcile() {
	price := e.LastPrice()
	if price == 0 {
		return
	}

	e.mu.RLock()
	ids := make([]domain.PositionID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		pos, ok := e.cache.GetPosition(id)
		if !ok || !pos.Open() {
			continue
		}
		rs, ok := e.cache.GetRisk(id)
		if !ok {
			continue
		}
		if rs.StopHit(pos.Direction, price) {
			e.TriggerExit(pos, domain.ExitReasonReconcile)
		}
	}
}

// EngineStats is the status-API snapshot.
type EngineStats struct {
	Worker            WorkerStats `json:"worker"`
	CacheEntries      int         `json:"cache_entries"`
	ActivePositions   int         `json:"active_positions"`
	OutstandingOrders int         `json:"outstanding_orders"`
	LastPrice         float64     `json:"last_price"`
}

func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	active := len(e.active)
	e.mu.RUnlock()

	return EngineStats{
		Worker:            e.worker.Stats(),
		CacheEntries:      e.cache.Len(),
		ActivePositions:   active,
		OutstandingOrders: e.matcher.Outstanding(),
		LastPrice:         e.LastPrice(),
	}
}

// PositionView pairs a position with its cached risk state.
type PositionView struct {
	Position domain.PositionRecord `json:"position"`
	Risk     *domain.RiskState     `json:"risk,omitempty"`
}

// ActivePositions returns cached snapshots for the status API.
func (e *Engine) ActivePositions() []PositionView {
	e.mu.RLock()
	ids := make([]domain.PositionID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	views := make([]PositionView, 0, len(ids))
	for _, id := range ids {
		pos, ok := e.cache.GetPosition(id)
		if !ok {
			continue
		}
		view := PositionView{Position: pos}
		if rs, ok := e.cache.GetRisk(id); ok {
			view.Risk = &rs
		}
		views = append(views, view)
	}
	return views
}

// Groups returns the engine's view of today's strategy groups.
func (e *Engine) Groups() []domain.StrategyGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.StrategyGroup, 0, len(e.groupsByNo))
	for _, g := range e.groupsByNo {
		out = append(out, g)
	}
	return out
}

// Cache exposes the state cache for tests and the replay tool.
func (e *Engine) Cache() *StateCache { return e.cache }

// Worker exposes the update worker for stats and tests.
func (e *Engine) Worker() *UpdateWorker { return e.worker }

// Exits exposes the exit coordinator.
func (e *Engine) Exits() *ExitCoordinator { return e.exits }
