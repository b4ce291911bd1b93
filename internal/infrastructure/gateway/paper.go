package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

// FillCallback mirrors the engine's onOrderFilled entry point.
type FillCallback func(orderID string, price, qty float64, ts time.Time)

// RejectCallback mirrors the engine's onOrderRejectedOrCancelled entry point.
type RejectCallback func(orderID, reason string)

// PaperGateway simulates broker execution against the last seen price.
// Used for dry runs and replays; orders never touch an exchange. Fills
// are delivered asynchronously on their own goroutine so the engine's
// callback path is exercised the same way a live gateway would.
type PaperGateway struct {
	logger *zap.Logger

	mu          sync.Mutex
	price       float64
	latency     time.Duration
	rejectEvery int // reject every Nth order, 0 disables
	submitted   int

	onFill   FillCallback
	onReject RejectCallback
}

func NewPaperGateway(logger *zap.Logger) *PaperGateway {
	return &PaperGateway{logger: logger, latency: 5 * time.Millisecond}
}

// OnFill registers the fill callback. Must be set before any order is
// submitted.
func (g *PaperGateway) OnFill(cb FillCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFill = cb
}

func (g *PaperGateway) OnReject(cb RejectCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onReject = cb
}

// SetPrice updates the simulated mark price. Wire it to the tick feed.
func (g *PaperGateway) SetPrice(price float64) {
	g.mu.Lock()
	g.price = price
	g.mu.Unlock()
}

// SetLatency controls the simulated submit-to-fill delay.
func (g *PaperGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	g.latency = d
	g.mu.Unlock()
}

// SetRejectEvery makes the gateway reject every nth order, for
// exercising retry paths. Zero disables injection.
func (g *PaperGateway) SetRejectEvery(n int) {
	g.mu.Lock()
	g.rejectEvery = n
	g.mu.Unlock()
}

// SubmitExitOrder accepts a simulated market exit under the caller's
// order id. The fill arrives asynchronously at the current price after
// the configured latency.
func (g *PaperGateway) SubmitExitOrder(ctx context.Context, orderID string, id domain.PositionID, dir domain.Direction, qty float64, hint domain.OrderHint) error {
	if qty <= 0 {
		return fmt.Errorf("paper gateway: qty must be positive, got %v", qty)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	g.submitted++
	price := g.price
	latency := g.latency
	reject := g.rejectEvery > 0 && g.submitted%g.rejectEvery == 0
	onFill := g.onFill
	onReject := g.onReject
	g.mu.Unlock()

	if price <= 0 {
		return fmt.Errorf("paper gateway: no price seen yet")
	}

	g.logger.Debug("paper exit accepted",
		zap.Int64("position_id", int64(id)),
		zap.String("order_id", orderID),
		zap.Float64("price", price))

	go func() {
		time.Sleep(latency)
		if reject {
			if onReject != nil {
				onReject(orderID, "paper reject injection")
			}
			return
		}
		if onFill != nil {
			onFill(orderID, price, qty, time.Now())
		}
	}()

	return nil
}

// SubmitEntryOrder simulates an entry for a previously tracked tagged
// order id. Unlike exits the order id is chosen by the caller, so the
// fill matcher's exact lookup can do its job.
func (g *PaperGateway) SubmitEntryOrder(ctx context.Context, orderID string, dir domain.Direction, qty float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	price := g.price
	latency := g.latency
	onFill := g.onFill
	g.mu.Unlock()

	if price <= 0 {
		return fmt.Errorf("paper gateway: no price seen yet")
	}

	go func() {
		time.Sleep(latency)
		if onFill != nil {
			onFill(orderID, price, qty, time.Now())
		}
	}()
	return nil
}
