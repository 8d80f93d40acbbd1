package symbol

import (
	"context"
	"testing"

	"autotrader/internal/broker"
)

func TestDedup_KeepsFirstOccurrence(t *testing.T) {
	symbols := []Descriptor{
		{Symbol: "AAA", Exchange: "X", MarketCap: 1},
		{Symbol: "aaa", Exchange: "x", MarketCap: 2},
		{Symbol: "BBB", Exchange: "X"},
	}

	deduped := Dedup(symbols)
	if len(deduped) != 2 {
		t.Fatalf("expected 2 symbols after dedup, got %d", len(deduped))
	}
	if deduped[0].MarketCap != 1 {
		t.Errorf("expected first occurrence kept")
	}
}

func TestIntersect(t *testing.T) {
	symbols := []Descriptor{
		{Symbol: "AAA"},
		{Symbol: "BBB"},
		{Symbol: "CCC"},
	}

	filtered := Intersect(symbols, []string{"bbb", " CCC "})
	if len(filtered) != 2 {
		t.Fatalf("expected 2 symbols after intersect, got %d", len(filtered))
	}
	if filtered[0].Symbol != "BBB" || filtered[1].Symbol != "CCC" {
		t.Errorf("unexpected intersect order: %+v", filtered)
	}

	if got := Intersect(symbols, nil); len(got) != 3 {
		t.Errorf("expected empty watch list to pass everything, got %d", len(got))
	}
}

func TestSortByMarketCapAndTruncate(t *testing.T) {
	symbols := []Descriptor{
		{Symbol: "AAA", MarketCap: 10},
		{Symbol: "BBB", MarketCap: 30},
		{Symbol: "CCC", MarketCap: 20},
	}

	SortByMarketCap(symbols)
	if symbols[0].Symbol != "BBB" || symbols[1].Symbol != "CCC" {
		t.Errorf("unexpected sort order: %+v", symbols)
	}

	if got := Truncate(symbols, 2); len(got) != 2 {
		t.Errorf("expected truncation to 2, got %d", len(got))
	}
	if got := Truncate(symbols, 0); len(got) != 3 {
		t.Errorf("expected zero limit to mean unlimited, got %d", len(got))
	}
}

func TestShufflePreservesMembership(t *testing.T) {
	symbols := []Descriptor{
		{Symbol: "AAA"},
		{Symbol: "BBB"},
		{Symbol: "CCC"},
		{Symbol: "DDD"},
	}

	Shuffle(symbols)

	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s.Symbol] = true
	}
	for _, want := range []string{"AAA", "BBB", "CCC", "DDD"} {
		if !seen[want] {
			t.Errorf("expected %s to survive shuffle", want)
		}
	}
	if len(symbols) != 4 {
		t.Errorf("expected 4 symbols after shuffle, got %d", len(symbols))
	}
}

type stubClient struct {
	universe  []broker.MarketEntry
	held      []broker.HeldSymbol
	nonTraded []broker.NonTradedOrder
}

func (s *stubClient) IsLoggedIn() bool { return true }

func (s *stubClient) Login(ctx context.Context, paper bool) error { return nil }
func (s *stubClient) SubscribeOrders(ctx context.Context, h broker.EventHandler) error {
	return nil
}

func (s *stubClient) MarketUniverse(ctx context.Context, product broker.Product) ([]broker.MarketEntry, error) {
	return s.universe, nil
}

func (s *stubClient) HeldSymbols(ctx context.Context) ([]broker.HeldSymbol, error) {
	return s.held, nil
}

func (s *stubClient) NonTradedOrders(ctx context.Context) ([]broker.NonTradedOrder, error) {
	return s.nonTraded, nil
}

func (s *stubClient) AvailableBalance(ctx context.Context) (broker.Balance, error) {
	return broker.Balance{}, nil
}

func (s *stubClient) Candles(ctx context.Context, sym, timeframe string, limit int64) ([]broker.Candle, error) {
	return nil, nil
}

func (s *stubClient) SubmitOrder(ctx context.Context, i broker.OrderInstruction) (broker.OrderResult, error) {
	return broker.OrderResult{}, nil
}

func TestBrokerProviderResolve_NewOrdersUseConfiguredSymbols(t *testing.T) {
	provider := NewBrokerProvider(&stubClient{
		universe: []broker.MarketEntry{{Symbol: "UNI", Exchange: "X"}},
	}, nil)

	configured := []Descriptor{{Symbol: "AAA", Exchange: "X"}}
	symbols, err := provider.Resolve(context.Background(), Request{
		Product:    broker.ProductStock,
		Configured: configured,
		OrderTypes: []broker.OrderType{broker.OrderNewBuy},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(symbols) != 1 || symbols[0].Symbol != "AAA" {
		t.Errorf("expected configured symbols only, got %+v", symbols)
	}
}

func TestBrokerProviderResolve_FallsBackToUniverse(t *testing.T) {
	provider := NewBrokerProvider(&stubClient{
		universe: []broker.MarketEntry{{Symbol: "UNI", Exchange: "X"}},
	}, nil)

	symbols, err := provider.Resolve(context.Background(), Request{
		Product:    broker.ProductStock,
		OrderTypes: []broker.OrderType{broker.OrderNewBuy},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(symbols) != 1 || symbols[0].Symbol != "UNI" {
		t.Errorf("expected universe fallback, got %+v", symbols)
	}
}

func TestBrokerProviderResolve_SellAndCancelPullAccountSymbols(t *testing.T) {
	provider := NewBrokerProvider(&stubClient{
		held:      []broker.HeldSymbol{{Symbol: "HOLD", Exchange: "X", Quantity: 1}},
		nonTraded: []broker.NonTradedOrder{{Symbol: "PEND", Exchange: "X", OrderNo: "1"}},
	}, nil)

	symbols, err := provider.Resolve(context.Background(), Request{
		Product:    broker.ProductStock,
		OrderTypes: []broker.OrderType{broker.OrderNewSell, broker.OrderCancelBuy},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected held and pending symbols, got %+v", symbols)
	}
}

func TestBrokerProviderResolve_FuturesAlwaysIncludeHeld(t *testing.T) {
	provider := NewBrokerProvider(&stubClient{
		held: []broker.HeldSymbol{{Symbol: "POS", Exchange: "X", Quantity: 2}},
	}, nil)

	symbols, err := provider.Resolve(context.Background(), Request{
		Product:    broker.ProductFutures,
		Configured: []Descriptor{{Symbol: "AAA", Exchange: "X"}},
		OrderTypes: []broker.OrderType{broker.OrderNewBuy},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected configured plus held symbols, got %+v", symbols)
	}
}

func TestBrokerProviderResolve_WatchListIntersection(t *testing.T) {
	provider := NewBrokerProvider(&stubClient{}, nil)

	symbols, err := provider.Resolve(context.Background(), Request{
		Product: broker.ProductStock,
		Configured: []Descriptor{
			{Symbol: "AAA", Exchange: "X"},
			{Symbol: "BBB", Exchange: "X"},
		},
		OrderTypes: []broker.OrderType{broker.OrderNewBuy},
		WatchList:  []string{"BBB"},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(symbols) != 1 || symbols[0].Symbol != "BBB" {
		t.Errorf("expected watch-list intersection, got %+v", symbols)
	}
}
