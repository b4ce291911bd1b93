package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "ENTRY"
	PurposeExit  OrderPurpose = "EXIT"
)

// PendingOrder is one outstanding order awaiting a broker outcome.
type PendingOrder struct {
	OrderID     string
	PositionID  domain.PositionID
	GroupNo     domain.GroupNo
	Direction   domain.Direction
	Purpose     OrderPurpose
	Reason      string // exit trigger source, empty for entries
	SubmittedAt time.Time
}

type groupDirKey struct {
	group domain.GroupNo
	dir   domain.Direction
}

// FillMatcher resolves broker fill/cancel notifications to the position
// that originated the order. Exact order-id match wins; when the id
// space is ambiguous (a retry re-submitted under the same id, or the
// gateway reissued its own id), the oldest pending order for the same
// group and direction is matched first-in-first-out.
type FillMatcher struct {
	mu     sync.Mutex
	byID   map[string][]*PendingOrder
	fifo   map[groupDirKey][]*PendingOrder
	logger *zap.Logger
}

func NewFillMatcher(logger *zap.Logger) *FillMatcher {
	return &FillMatcher{
		byID:   make(map[string][]*PendingOrder),
		fifo:   make(map[groupDirKey][]*PendingOrder),
		logger: logger,
	}
}

// OrderTag builds the client order id the engine submits with. The tag
// prefix carries group and direction so a reissued gateway id can still
// be matched by the FIFO fallback.
func OrderTag(group domain.GroupNo, dir domain.Direction, suffix string) string {
	return fmt.Sprintf("G%d-%s-%s", group, dir, suffix)
}

// ParseOrderTag recovers group and direction from a tagged order id.
func ParseOrderTag(orderID string) (domain.GroupNo, domain.Direction, bool) {
	if !strings.HasPrefix(orderID, "G") {
		return 0, "", false
	}
	parts := strings.SplitN(orderID[1:], "-", 3)
	if len(parts) < 2 {
		return 0, "", false
	}
	no, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	dir := domain.Direction(parts[1])
	if dir != domain.DirectionLong && dir != domain.DirectionShort {
		return 0, "", false
	}
	return domain.GroupNo(no), dir, true
}

// Track registers an outstanding order. Safe to call for several orders
// with the same id: fills resolve to the oldest first.
func (m *FillMatcher) Track(po PendingOrder) {
	if po.SubmittedAt.IsZero() {
		po.SubmittedAt = time.Now()
	}
	key := groupDirKey{group: po.GroupNo, dir: po.Direction}

	m.mu.Lock()
	m.byID[po.OrderID] = append(m.byID[po.OrderID], &po)
	m.fifo[key] = append(m.fifo[key], &po)
	m.mu.Unlock()
}

// Match resolves a broker notification. Returns the matched order, or
// false when nothing outstanding could have produced it, which always
// indicates either a lost order or a coordinator bug and is surfaced
// loudly by the caller.
func (m *FillMatcher) Match(orderID string) (PendingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if list := m.byID[orderID]; len(list) > 0 {
		po := list[0]
		m.removeLocked(po)
		return *po, true
	}

	// Fallback: id not tracked verbatim, but the tag still names the
	// group and direction. Oldest pending order there wins.
	if group, dir, ok := ParseOrderTag(orderID); ok {
		key := groupDirKey{group: group, dir: dir}
		if list := m.fifo[key]; len(list) > 0 {
			po := list[0]
			m.removeLocked(po)
			m.logger.Warn("fill matched by FIFO fallback",
				zap.String("order_id", orderID),
				zap.String("matched_order_id", po.OrderID),
				zap.Int64("position_id", int64(po.PositionID)))
			return *po, true
		}
	}

	metricUnmatchedFills.Inc()
	return PendingOrder{}, false
}

// Untrack removes an order that was registered ahead of submission but
// never reached the gateway.
func (m *FillMatcher) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byID[orderID]
	if len(list) == 0 {
		return
	}
	m.removeLocked(list[len(list)-1])
}

// Forget drops all outstanding orders for a position, for when the
// position reaches a terminal state through another path.
func (m *FillMatcher) Forget(id domain.PositionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var victims []*PendingOrder
	for _, list := range m.byID {
		for _, po := range list {
			if po.PositionID == id {
				victims = append(victims, po)
			}
		}
	}
	for _, po := range victims {
		m.removeLocked(po)
	}
}

func (m *FillMatcher) removeLocked(po *PendingOrder) {
	m.byID[po.OrderID] = removeOrder(m.byID[po.OrderID], po)
	if len(m.byID[po.OrderID]) == 0 {
		delete(m.byID, po.OrderID)
	}
	key := groupDirKey{group: po.GroupNo, dir: po.Direction}
	m.fifo[key] = removeOrder(m.fifo[key], po)
	if len(m.fifo[key]) == 0 {
		delete(m.fifo, key)
	}
}

func removeOrder(list []*PendingOrder, po *PendingOrder) []*PendingOrder {
	out := list[:0]
	for _, p := range list {
		if p != po {
			out = append(out, p)
		}
	}
	return out
}

func (m *FillMatcher) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.byID {
		n += len(list)
	}
	return n
}
