package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "engine.db", "path to sqlite database")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	groups, err := store.ListGroups(ctx)
	if err != nil {
		fmt.Printf("Failed to list groups: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d groups:\n", len(groups))
	for _, g := range groups {
		fmt.Printf("- Group %d (%s): status=%s lots=%d\n",
			g.GroupNo, g.Direction, g.Status, g.LotCount)

		positions, err := store.ListPositionsByGroup(ctx, g.RowID)
		if err != nil {
			fmt.Printf("  failed to list positions: %v\n", err)
			continue
		}

		for _, p := range positions {
			entry := "-"
			if p.EntryPrice != nil {
				entry = fmt.Sprintf("%.2f", *p.EntryPrice)
			}
			exit := "-"
			if p.ExitPrice != nil {
				exit = fmt.Sprintf("%.2f", *p.ExitPrice)
			}
			fmt.Printf("  lot %d: id=%d status=%s entry=%s exit=%s pnl=%.2f reason=%s\n",
				p.LotIndex, p.ID, p.Status, entry, exit, p.RealizedPnL, p.ExitReason)

			rs, err := store.GetRiskState(ctx, p.ID)
			if err != nil {
				fmt.Printf("    no risk state\n")
				continue
			}
			fmt.Printf("    risk: phase=%s peak=%.2f stop=%.2f updated=%s\n",
				rs.Phase, rs.PeakPrice, rs.StopLoss, rs.LastUpdate.Format("15:04:05"))
		}

		pnl, err := store.SumRealizedPnL(ctx, g.RowID)
		if err == nil {
			fmt.Printf("  realized pnl: %.2f\n", pnl)
		}
	}
}
