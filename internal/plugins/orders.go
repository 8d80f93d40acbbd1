package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
)

type marketEntryParams struct {
	BudgetPct float64 `mapstructure:"budget_pct"`
	Timeframe string  `mapstructure:"timeframe"`
}

// marketEntry 按可用资金比例市价开仓。多头信号买入，
// 期货上的空头信号卖出开空。
type marketEntry struct {
	client broker.Client
	logger *zap.Logger
	params marketEntryParams

	mu      sync.RWMutex
	balance broker.Balance
}

func newMarketEntry(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	p := marketEntryParams{BudgetPct: 0.1, Timeframe: "1m"}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.BudgetPct <= 0 || p.BudgetPct > 1 {
		return nil, fmt.Errorf("plugins: market_entry 的 budget_pct 必须位于(0,1]")
	}
	return &marketEntry{client: deps.Client, logger: deps.Logger, params: p}, nil
}

func (m *marketEntry) ID() string { return "market_entry" }

func (m *marketEntry) OrderTypes() []broker.OrderType {
	return []broker.OrderType{broker.OrderNewBuy, broker.OrderNewSell}
}

// SetBalance 接收可用资金注入。
func (m *marketEntry) SetBalance(balance broker.Balance) {
	m.mu.Lock()
	m.balance = balance
	m.mu.Unlock()
}

func (m *marketEntry) Decide(ctx context.Context, signal plugin.Signal) ([]broker.OrderInstruction, error) {
	m.mu.RLock()
	available := m.balance.OrderableAmount
	m.mu.RUnlock()

	budget := available * m.params.BudgetPct
	if budget <= 0 {
		return []broker.OrderInstruction{{
			Success: false,
			Symbol:  signal.Symbol.Symbol,
			Reason:  "可用资金不足",
		}}, nil
	}

	candles, err := m.client.Candles(ctx, signal.Symbol.Symbol, m.params.Timeframe, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 || candles[len(candles)-1].Close <= 0 {
		return []broker.OrderInstruction{{
			Success: false,
			Symbol:  signal.Symbol.Symbol,
			Reason:  "无有效最新价",
		}}, nil
	}
	price := candles[len(candles)-1].Close

	side := broker.SideBuy
	if signal.Symbol.Product == broker.ProductFutures && signal.Side == broker.PositionShort {
		side = broker.SideSell
	}

	return []broker.OrderInstruction{{
		Success:   true,
		Kind:      broker.KindNew,
		Product:   signal.Symbol.Product,
		Symbol:    signal.Symbol.Symbol,
		Exchange:  signal.Symbol.Exchange,
		Side:      side,
		Quantity:  budget / price,
		PriceType: "market",
	}}, nil
}

// OnOrderEvent 记录成交回报，在分发循环外触发。
func (m *marketEntry) OnOrderEvent(evt broker.OrderEvent) {
	m.logger.Info("开仓订单回报",
		zap.String("order_no", evt.OrderNo),
		zap.String("transition", string(evt.Transition)),
		zap.Float64("filled_qty", evt.FilledQty),
	)
}

type marketExitParams struct{}

// marketExit 市价平掉当前持仓。
type marketExit struct {
	logger *zap.Logger

	mu   sync.RWMutex
	held map[string]broker.HeldSymbol
}

func newMarketExit(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	var p marketExitParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return &marketExit{logger: deps.Logger, held: make(map[string]broker.HeldSymbol)}, nil
}

func (m *marketExit) ID() string { return "market_exit" }

func (m *marketExit) OrderTypes() []broker.OrderType {
	return []broker.OrderType{broker.OrderNewSell}
}

// SetHeldSymbols 接收持仓快照注入。
func (m *marketExit) SetHeldSymbols(held []broker.HeldSymbol) {
	index := make(map[string]broker.HeldSymbol, len(held))
	for _, h := range held {
		index[broker.SymbolKey(h.Exchange, h.Symbol)] = h
	}
	m.mu.Lock()
	m.held = index
	m.mu.Unlock()
}

func (m *marketExit) Decide(ctx context.Context, signal plugin.Signal) ([]broker.OrderInstruction, error) {
	m.mu.RLock()
	position, held := m.held[signal.Symbol.Key()]
	m.mu.RUnlock()

	if !held || position.SellableQty <= 0 {
		return []broker.OrderInstruction{{
			Success: false,
			Symbol:  signal.Symbol.Symbol,
			Reason:  "无可平仓数量",
		}}, nil
	}

	side := broker.SideSell
	if position.Side == broker.SideSell {
		side = broker.SideBuy
	}

	return []broker.OrderInstruction{{
		Success:   true,
		Kind:      broker.KindNew,
		Product:   signal.Symbol.Product,
		Symbol:    signal.Symbol.Symbol,
		Exchange:  signal.Symbol.Exchange,
		Side:      side,
		Quantity:  position.SellableQty,
		PriceType: "market",
	}}, nil
}

// OnOrderEventInLoop 在分发循环内串行记录平仓回报。
func (m *marketExit) OnOrderEventInLoop(evt broker.OrderEvent) {
	m.logger.Info("平仓订单回报",
		zap.String("order_no", evt.OrderNo),
		zap.String("transition", string(evt.Transition)),
		zap.Float64("remaining_qty", evt.RemainingQty),
	)
}

type cancelStaleParams struct {
	MaxAgeSeconds int `mapstructure:"max_age_seconds"`
}

// cancelStale 撤掉挂出超过最长等待时间仍未成交的订单。
type cancelStale struct {
	logger *zap.Logger
	params cancelStaleParams
	now    func() time.Time

	mu      sync.RWMutex
	pending []broker.NonTradedOrder
}

func newCancelStale(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	p := cancelStaleParams{MaxAgeSeconds: 300}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.MaxAgeSeconds <= 0 {
		return nil, errors.New("plugins: cancel_stale 的 max_age_seconds 必须大于0")
	}
	return &cancelStale{
		logger: deps.Logger,
		params: p,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *cancelStale) ID() string { return "cancel_stale" }

func (c *cancelStale) OrderTypes() []broker.OrderType {
	return []broker.OrderType{broker.OrderCancelBuy, broker.OrderCancelSell}
}

// SetNonTradedOrders 接收未成交订单快照注入。
func (c *cancelStale) SetNonTradedOrders(orders []broker.NonTradedOrder) {
	c.mu.Lock()
	c.pending = orders
	c.mu.Unlock()
}

func (c *cancelStale) Decide(ctx context.Context, signal plugin.Signal) ([]broker.OrderInstruction, error) {
	c.mu.RLock()
	pending := make([]broker.NonTradedOrder, len(c.pending))
	copy(pending, c.pending)
	c.mu.RUnlock()

	cutoff := c.now().Add(-time.Duration(c.params.MaxAgeSeconds) * time.Second)
	key := signal.Symbol.Key()

	var instructions []broker.OrderInstruction
	for _, order := range pending {
		if broker.SymbolKey(order.Exchange, order.Symbol) != key {
			continue
		}
		if order.SubmittedAt.IsZero() || order.SubmittedAt.After(cutoff) {
			continue
		}

		instructions = append(instructions, broker.OrderInstruction{
			Success:     true,
			Kind:        broker.KindCancel,
			Product:     signal.Symbol.Product,
			Symbol:      order.Symbol,
			Exchange:    order.Exchange,
			Side:        order.Side,
			OrigOrderNo: order.OrderNo,
		})
	}
	return instructions, nil
}
