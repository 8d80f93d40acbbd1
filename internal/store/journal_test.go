package store

import (
	"context"
	"testing"
	"time"

	"autotrader/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournal_AppendAndReadBackEvents(t *testing.T) {
	s := newTestStore(t)
	journal, err := NewJournal(s.DB())
	if err != nil {
		t.Fatalf("NewJournal returned error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []EventRecord{
		{OccurredAt: now, OrderNo: "1001", Symbol: "BTC/USDT:USDT", Transition: "submitted"},
		{OccurredAt: now.Add(time.Second), OrderNo: "1001", Transition: "filled", FilledQty: 1},
		{OccurredAt: now, OrderNo: "2001", Transition: "submitted"},
	}
	for _, record := range records {
		if err := journal.AppendEvent(ctx, record); err != nil {
			t.Fatalf("AppendEvent returned error: %v", err)
		}
	}

	events, err := journal.RecentEvents(ctx, "1001", 10)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for order 1001, got %d", len(events))
	}
	if events[0].Transition != "submitted" || events[1].Transition != "filled" {
		t.Errorf("events out of order: %s, %s", events[0].Transition, events[1].Transition)
	}
}

func TestJournal_AppendRun(t *testing.T) {
	s := newTestStore(t)
	journal, err := NewJournal(s.DB())
	if err != nil {
		t.Fatalf("NewJournal returned error: %v", err)
	}

	record := RunRecord{
		StrategyID:     "s1",
		StartedAt:      time.Now().UTC(),
		FinishedAt:     time.Now().UTC(),
		MatchedSymbols: 3,
		Status:         "evaluated",
	}
	if err := journal.AppendRun(context.Background(), record); err != nil {
		t.Fatalf("AppendRun returned error: %v", err)
	}
}

func TestJournal_AppendAndReadBackErrors(t *testing.T) {
	s := newTestStore(t)
	journal, err := NewJournal(s.DB())
	if err != nil {
		t.Fatalf("NewJournal returned error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []ErrorRecord{
		{OccurredAt: now, StrategyID: "s1", Source: "condition:rsi_band", Message: "boom"},
		{OccurredAt: now.Add(time.Second), StrategyID: "s2", Source: "engine", Message: "later"},
	}
	for _, record := range records {
		if err := journal.AppendError(ctx, record); err != nil {
			t.Fatalf("AppendError returned error: %v", err)
		}
	}

	errors, err := journal.RecentErrors(ctx, 10)
	if err != nil {
		t.Fatalf("RecentErrors returned error: %v", err)
	}
	if len(errors) != 2 {
		t.Fatalf("expected 2 error records, got %d", len(errors))
	}
	if errors[0].Message != "later" || errors[1].Message != "boom" {
		t.Errorf("errors out of order: %s, %s", errors[0].Message, errors[1].Message)
	}
	if errors[1].Source != "condition:rsi_band" {
		t.Errorf("source = %q, want condition:rsi_band", errors[1].Source)
	}
}

func TestTrailingStore_WaterMarkLifecycle(t *testing.T) {
	s := newTestStore(t)
	trailing, err := NewTrailingStore(s.DB())
	if err != nil {
		t.Fatalf("NewTrailingStore returned error: %v", err)
	}

	ctx := context.Background()
	key := "BINANCEUSDM:BTC/USDT:USDT"

	if _, found, err := trailing.HighMark(ctx, key); err != nil || found {
		t.Fatalf("expected no mark initially, found=%v err=%v", found, err)
	}

	high, err := trailing.RaiseHighMark(ctx, key, 100)
	if err != nil {
		t.Fatalf("RaiseHighMark returned error: %v", err)
	}
	if high != 100 {
		t.Errorf("expected mark 100, got %f", high)
	}

	high, err = trailing.RaiseHighMark(ctx, key, 90)
	if err != nil {
		t.Fatalf("RaiseHighMark returned error: %v", err)
	}
	if high != 100 {
		t.Errorf("expected mark to hold at 100 on lower price, got %f", high)
	}

	high, err = trailing.RaiseHighMark(ctx, key, 120)
	if err != nil {
		t.Fatalf("RaiseHighMark returned error: %v", err)
	}
	if high != 120 {
		t.Errorf("expected mark raised to 120, got %f", high)
	}

	if err := trailing.ClearHighMark(ctx, key); err != nil {
		t.Fatalf("ClearHighMark returned error: %v", err)
	}
	if _, found, err := trailing.HighMark(ctx, key); err != nil || found {
		t.Errorf("expected mark cleared, found=%v err=%v", found, err)
	}
}
