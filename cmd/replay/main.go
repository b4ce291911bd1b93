package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/gateway"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/logger"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/storage"
	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"go.uber.org/zap"
)

// Replays a tick file against a fresh engine with a paper gateway. Each
// line is "price" or "price,qty". The single group and lot opened here
// let the full risk lifecycle run offline against recorded data.
func main() {
	ticksPath := flag.String("ticks", "ticks.txt", "path to tick file, one price per line")
	dbPath := flag.String("db", ":memory:", "sqlite path, in-memory by default")
	dir := flag.String("dir", "LONG", "position direction, LONG or SHORT")
	initialStop := flag.Float64("stop", 0, "initial stop price, 0 disables")
	activation := flag.Float64("activation", 30, "trailing activation distance")
	distance := flag.Float64("distance", 20, "trailing distance")
	flag.Parse()

	log, err := logger.NewLogger("info")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	broker := gateway.NewPaperGateway(log)
	broker.SetLatency(0)

	cfg := usecase.Config{ExitLockTimeout: 5 * time.Second}
	engine, err := usecase.NewEngine(cfg, store, store, store, broker, log)
	if err != nil {
		log.Fatal("Failed to init engine", zap.Error(err))
	}
	broker.OnFill(engine.OnOrderFilled)
	broker.OnReject(engine.OnOrderRejectedOrCancelled)

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}
	defer engine.Stop()

	direction := domain.DirectionLong
	if strings.EqualFold(*dir, "SHORT") {
		direction = domain.DirectionShort
	}
	rule := domain.RuleConfig{
		InitialStop:        *initialStop,
		TrailingActivation: *activation,
		TrailingDistance:   *distance,
	}

	group := &domain.StrategyGroup{
		GroupNo:   1,
		Direction: direction,
		LotCount:  1,
		Status:    domain.GroupWaiting,
	}
	if err := engine.RegisterGroup(ctx, group); err != nil {
		log.Fatal("Failed to register group", zap.Error(err))
	}

	pos, err := engine.OpenPosition(ctx, group.GroupNo, 0, direction, rule)
	if err != nil {
		log.Fatal("Failed to open position", zap.Error(err))
	}

	f, err := os.Open(*ticksPath)
	if err != nil {
		log.Fatal("Failed to open tick file", zap.Error(err))
	}
	defer f.Close()

	now := time.Now()
	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field := strings.SplitN(line, ",", 2)[0]
		price, err := strconv.ParseFloat(field, 64)
		if err != nil {
			log.Warn("Skipping bad tick line", zap.String("line", line))
			continue
		}

		broker.SetPrice(price)
		if count == 0 {
			// First tick fills the entry.
			if err := broker.SubmitEntryOrder(ctx, pos.OrderID, direction, 1); err != nil {
				log.Fatal("Failed to fill entry", zap.Error(err))
			}
			// Let the async fill land before streaming ticks.
			time.Sleep(50 * time.Millisecond)
		}

		now = now.Add(100 * time.Millisecond)
		engine.OnTick(price, now)
		count++
	}
	if err := scanner.Err(); err != nil {
		log.Fatal("Tick file read error", zap.Error(err))
	}

	// Give async fills and the write-behind queue time to settle.
	time.Sleep(200 * time.Millisecond)

	fmt.Printf("Replayed %d ticks\n", count)
	final, err := store.GetPosition(ctx, pos.ID)
	if err != nil {
		log.Fatal("Failed to load final position", zap.Error(err))
	}
	fmt.Printf("Position %d: status=%s", final.ID, final.Status)
	if final.EntryPrice != nil {
		fmt.Printf(" entry=%.2f", *final.EntryPrice)
	}
	if final.ExitPrice != nil {
		fmt.Printf(" exit=%.2f reason=%s pnl=%.2f", *final.ExitPrice, final.ExitReason, final.RealizedPnL)
	}
	fmt.Println()

	stats := engine.Stats()
	fmt.Printf("Worker: scheduled=%d completed=%d dropped=%d failed=%d\n",
		stats.Worker.Scheduled, stats.Worker.Completed, stats.Worker.Dropped, stats.Worker.Failed)
}
