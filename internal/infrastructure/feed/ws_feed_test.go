package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestWSFeed_ReconnectDoesNotLeakGoroutines(t *testing.T) {
	var upgrader websocket.Upgrader
	accepted := make(chan struct{}, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- struct{}{}
		// Read the subscribe frame, then drop the connection so the
		// feed has to reconnect.
		c.ReadMessage()
		c.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewWSFeed(url, "BTCUSDT", zap.NewNop())

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	// Each accepted connection is one reconnect cycle.
	for i := 0; i < 5; i++ {
		select {
		case <-accepted:
		case <-time.After(3 * time.Second):
			cancel()
			t.Fatalf("feed stopped reconnecting after %d connections", i)
		}
	}
	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutines left behind by reconnects: before=%d after=%d",
		before, runtime.NumGoroutine())
}
