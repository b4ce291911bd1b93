package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickCallback receives every price tick for the subscribed symbol.
type TickCallback func(price float64, ts time.Time)

// WSFeed streams ticks from an exchange websocket and fans them out to
// registered callbacks. It reconnects with backoff when the connection
// drops; subscriptions are replayed after every reconnect.
type WSFeed struct {
	url    string
	symbol string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	callbacks []TickCallback
}

func NewWSFeed(url, symbol string, logger *zap.Logger) *WSFeed {
	return &WSFeed{
		url:    url,
		symbol: symbol,
		logger: logger,
	}
}

func (f *WSFeed) OnTick(cb TickCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

// Run connects and reads until the context is cancelled. A dropped
// connection is retried with capped backoff rather than returned as an
// error; only cancellation stops the feed.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		if err := f.connect(); err != nil {
			f.logger.Warn("feed connect failed",
				zap.String("url", f.url),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		f.readLoop(ctx)
	}
}

func (f *WSFeed) connect() error {
	c, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"publicTrade." + f.symbol},
	}
	if err := c.WriteJSON(sub); err != nil {
		c.Close()
		return err
	}

	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
	f.logger.Info("feed connected", zap.String("symbol", f.symbol))
	return nil
}

func (f *WSFeed) readLoop(ctx context.Context) {
	defer func() {
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	// The watcher is tied to this connection's lifetime; it exits when
	// the read loop returns, not at process shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			if f.conn != nil {
				f.conn.Close()
			}
			f.mu.Unlock()
		case <-done:
		}
	}()

	for {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("feed read error, reconnecting", zap.Error(err))
			}
			return
		}

		var event struct {
			Topic string `json:"topic"`
			TS    int64  `json:"ts"`
			Data  []struct {
				Price string `json:"p"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			f.logger.Warn("feed unmarshal error", zap.Error(err))
			continue
		}
		if event.Topic == "" || len(event.Data) == 0 {
			continue
		}

		price, err := strconv.ParseFloat(event.Data[len(event.Data)-1].Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		ts := time.UnixMilli(event.TS)
		if event.TS == 0 {
			ts = time.Now()
		}

		f.mu.Lock()
		cbs := append([]TickCallback(nil), f.callbacks...)
		f.mu.Unlock()
		for _, cb := range cbs {
			cb(price, ts)
		}
	}
}
