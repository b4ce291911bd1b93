package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
)

// memStore is an in-memory stand-in for the sqlite store. It mirrors
// the store's idempotence rules so worker retries behave the same way.
type memStore struct {
	mu        sync.Mutex
	nextGroup int64
	nextPos   int64
	groups    map[domain.GroupRowID]*domain.StrategyGroup
	positions map[domain.PositionID]*domain.PositionRecord
	risks     map[domain.PositionID]*domain.RiskState

	// failWrites makes the next N mutating calls fail.
	failWrites int
	writeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		groups:    make(map[domain.GroupRowID]*domain.StrategyGroup),
		positions: make(map[domain.PositionID]*domain.PositionRecord),
		risks:     make(map[domain.PositionID]*domain.RiskState),
	}
}

func (m *memStore) failNext(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// maybeFail must be called with mu held.
func (m *memStore) maybeFail() error {
	m.writeCalls++
	if m.failWrites > 0 {
		m.failWrites--
		return fmt.Errorf("injected write failure")
	}
	return nil
}

func (m *memStore) CreateGroup(ctx context.Context, g *domain.StrategyGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.groups {
		if existing.GroupNo == g.GroupNo {
			return fmt.Errorf("group %d already exists", g.GroupNo)
		}
	}
	m.nextGroup++
	g.RowID = domain.GroupRowID(m.nextGroup)
	if g.Status == "" {
		g.Status = domain.GroupWaiting
	}
	cp := *g
	m.groups[g.RowID] = &cp
	return nil
}

func (m *memStore) GetGroup(ctx context.Context, id domain.GroupRowID) (*domain.StrategyGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) GetGroupByNo(ctx context.Context, no domain.GroupNo) (*domain.StrategyGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.GroupNo == no {
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrGroupNotFound
}

func (m *memStore) ListGroups(ctx context.Context) ([]*domain.StrategyGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StrategyGroup
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateGroupStatus(ctx context.Context, id domain.GroupRowID, status domain.GroupStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	g, ok := m.groups[id]
	if !ok || g.UpdatedAt.After(updatedAt) {
		return nil
	}
	g.Status = status
	g.UpdatedAt = updatedAt
	return nil
}

func (m *memStore) CreatePosition(ctx context.Context, p *domain.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[p.GroupRow]; !ok {
		return fmt.Errorf("group row %d: %w", p.GroupRow, domain.ErrUnknownGroup)
	}
	for _, existing := range m.positions {
		if existing.GroupRow == p.GroupRow && existing.LotIndex == p.LotIndex {
			return fmt.Errorf("group %d lot %d: %w", p.GroupNo, p.LotIndex, domain.ErrDuplicateLot)
		}
	}
	m.nextPos++
	p.ID = domain.PositionID(m.nextPos)
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memStore) GetPosition(ctx context.Context, id domain.PositionID) (*domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListActivePositions(ctx context.Context) ([]*domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PositionRecord
	for _, p := range m.positions {
		if p.Status == domain.PositionPending || p.Status == domain.PositionActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListPositionsByGroup(ctx context.Context, id domain.GroupRowID) ([]*domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PositionRecord
	for _, p := range m.positions {
		if p.GroupRow == id {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePositionFill(ctx context.Context, id domain.PositionID, fill *domain.FillUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	p, ok := m.positions[id]
	if !ok || p.Terminal() {
		return nil
	}
	price := fill.Price
	ts := fill.Time
	p.EntryPrice = &price
	p.EntryTime = &ts
	p.OrderStatus = domain.OrderFilled
	p.Status = domain.PositionActive
	p.UpdatedAt = ts
	return nil
}

func (m *memStore) UpdatePositionExit(ctx context.Context, id domain.PositionID, exit *domain.ExitUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	p, ok := m.positions[id]
	if !ok || p.Status == domain.PositionFailed {
		return nil
	}
	price := exit.Price
	ts := exit.Time
	p.ExitPrice = &price
	p.ExitTime = &ts
	p.ExitReason = exit.Reason
	p.RealizedPnL = exit.PnL
	p.Status = domain.PositionExited
	p.OrderStatus = domain.OrderFilled
	p.UpdatedAt = ts
	return nil
}

func (m *memStore) UpdatePositionStatus(ctx context.Context, id domain.PositionID, st *domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	p, ok := m.positions[id]
	if !ok || p.UpdatedAt.After(st.Time) {
		return nil
	}
	p.Status = st.Status
	p.OrderStatus = st.OrderStatus
	p.RetryCount = st.RetryCount
	p.UpdatedAt = st.Time
	return nil
}

func (m *memStore) SumRealizedPnL(ctx context.Context, id domain.GroupRowID) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, p := range m.positions {
		if p.GroupRow == id && p.Status == domain.PositionExited {
			sum += p.RealizedPnL
		}
	}
	return sum, nil
}

func (m *memStore) CountOpenLots(ctx context.Context, id domain.GroupRowID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.GroupRow == id && (p.Status == domain.PositionPending || p.Status == domain.PositionActive) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpsertRiskState(ctx context.Context, rs *domain.RiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	existing, ok := m.risks[rs.PositionID]
	if ok && existing.LastUpdate.After(rs.LastUpdate) {
		return nil
	}
	cp := *rs
	m.risks[rs.PositionID] = &cp
	return nil
}

func (m *memStore) GetRiskState(ctx context.Context, id domain.PositionID) (*domain.RiskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.risks[id]
	if !ok {
		return nil, domain.ErrRiskStateNotFound
	}
	cp := *rs
	return &cp, nil
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// mockGateway records submitted exit orders and answers them on demand.
// With fillPrice and onFill set it fills synchronously, before the
// submit call returns, mimicking a zero-latency gateway.
type mockGateway struct {
	mu        sync.Mutex
	submitted []submittedExit
	err       error
	delay     time.Duration
	fillPrice float64
	onFill    func(orderID string, price, qty float64, ts time.Time)
}

type submittedExit struct {
	OrderID    string
	PositionID domain.PositionID
	Direction  domain.Direction
}

func (g *mockGateway) SubmitExitOrder(ctx context.Context, orderID string, id domain.PositionID, dir domain.Direction, qty float64, hint domain.OrderHint) error {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	if g.err != nil {
		err := g.err
		g.mu.Unlock()
		return err
	}
	g.submitted = append(g.submitted, submittedExit{OrderID: orderID, PositionID: id, Direction: dir})
	fillPrice, onFill := g.fillPrice, g.onFill
	g.mu.Unlock()

	if fillPrice > 0 && onFill != nil {
		onFill(orderID, fillPrice, qty, time.Now())
	}
	return nil
}

func (g *mockGateway) exits() []submittedExit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]submittedExit(nil), g.submitted...)
}
