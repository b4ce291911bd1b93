package usecase_test

import (
	"testing"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"go.uber.org/zap"
)

func TestOrderTagRoundTrip(t *testing.T) {
	tag := usecase.OrderTag(3, domain.DirectionLong, "abc-123")
	if tag != "G3-LONG-abc-123" {
		t.Errorf("unexpected tag %q", tag)
	}

	group, dir, ok := usecase.ParseOrderTag(tag)
	if !ok || group != 3 || dir != domain.DirectionLong {
		t.Errorf("parse failed: group=%d dir=%s ok=%v", group, dir, ok)
	}

	if _, _, ok := usecase.ParseOrderTag("broker-generated-id"); ok {
		t.Error("untagged id parsed as tag")
	}
	if _, _, ok := usecase.ParseOrderTag("G3-SIDEWAYS-x"); ok {
		t.Error("bad direction accepted")
	}
}

func TestFillMatcher_ExactMatch(t *testing.T) {
	m := usecase.NewFillMatcher(zap.NewNop())

	m.Track(usecase.PendingOrder{
		OrderID:    "G1-LONG-a",
		PositionID: 10,
		GroupNo:    1,
		Direction:  domain.DirectionLong,
		Purpose:    usecase.PurposeEntry,
	})

	po, ok := m.Match("G1-LONG-a")
	if !ok || po.PositionID != 10 {
		t.Fatalf("exact match failed: %+v ok=%v", po, ok)
	}

	// Matched orders are consumed.
	if _, ok := m.Match("G1-LONG-a"); ok {
		t.Error("order matched twice")
	}
	if m.Outstanding() != 0 {
		t.Errorf("outstanding not drained: %d", m.Outstanding())
	}
}

func TestFillMatcher_FIFOFallback(t *testing.T) {
	m := usecase.NewFillMatcher(zap.NewNop())

	base := time.Now()
	m.Track(usecase.PendingOrder{
		OrderID: "G2-LONG-old", PositionID: 1, GroupNo: 2,
		Direction: domain.DirectionLong, SubmittedAt: base,
	})
	m.Track(usecase.PendingOrder{
		OrderID: "G2-LONG-new", PositionID: 2, GroupNo: 2,
		Direction: domain.DirectionLong, SubmittedAt: base.Add(time.Second),
	})

	// The gateway reissued its own id. The tag still names group 2 long,
	// so the oldest pending order there wins.
	po, ok := m.Match("G2-LONG-reissued-by-gateway")
	if !ok || po.PositionID != 1 {
		t.Fatalf("FIFO fallback picked wrong order: %+v ok=%v", po, ok)
	}

	// Second unmatched id drains the next in line.
	po, ok = m.Match("G2-LONG-also-reissued")
	if !ok || po.PositionID != 2 {
		t.Fatalf("second fallback failed: %+v ok=%v", po, ok)
	}
}

func TestFillMatcher_WrongGroupNoFallback(t *testing.T) {
	m := usecase.NewFillMatcher(zap.NewNop())

	m.Track(usecase.PendingOrder{
		OrderID: "G2-LONG-a", PositionID: 1, GroupNo: 2, Direction: domain.DirectionLong,
	})

	// Different group or direction must never cross-match.
	if _, ok := m.Match("G3-LONG-x"); ok {
		t.Error("matched across groups")
	}
	if _, ok := m.Match("G2-SHORT-x"); ok {
		t.Error("matched across directions")
	}
	if m.Outstanding() != 1 {
		t.Errorf("pending order lost: %d", m.Outstanding())
	}
}

func TestFillMatcher_Forget(t *testing.T) {
	m := usecase.NewFillMatcher(zap.NewNop())

	m.Track(usecase.PendingOrder{OrderID: "G1-LONG-a", PositionID: 1, GroupNo: 1, Direction: domain.DirectionLong})
	m.Track(usecase.PendingOrder{OrderID: "G1-LONG-b", PositionID: 1, GroupNo: 1, Direction: domain.DirectionLong})
	m.Track(usecase.PendingOrder{OrderID: "G1-LONG-c", PositionID: 2, GroupNo: 1, Direction: domain.DirectionLong})

	m.Forget(1)

	if m.Outstanding() != 1 {
		t.Errorf("expected 1 outstanding after forget, got %d", m.Outstanding())
	}
	if po, ok := m.Match("G1-LONG-c"); !ok || po.PositionID != 2 {
		t.Error("unrelated order lost by forget")
	}
}
