package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
	"autotrader/internal/store"
	"autotrader/internal/symbol"
)

type trailingStopParams struct {
	Timeframe string  `mapstructure:"timeframe"`
	DropPct   float64 `mapstructure:"drop_pct"`
}

// trailingStop 维护持仓标的的最高价水位，价格从水位回撤超过
// 阈值时给出离场信号。水位跨进程保存在存储层，触发后清除。
type trailingStop struct {
	client broker.Client
	stor   *store.TrailingStore
	logger *zap.Logger
	params trailingStopParams

	mu   sync.RWMutex
	held map[string]broker.HeldSymbol
}

func newTrailingStop(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	if deps.Trailing == nil {
		return nil, errors.New("plugins: trailing_stop 需要水位存储")
	}

	p := trailingStopParams{Timeframe: "1m", DropPct: 0.05}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.DropPct <= 0 || p.DropPct >= 1 {
		return nil, fmt.Errorf("plugins: trailing_stop 的 drop_pct 必须位于(0,1)")
	}

	return &trailingStop{
		client: deps.Client,
		stor:   deps.Trailing,
		logger: deps.Logger,
		params: p,
		held:   make(map[string]broker.HeldSymbol),
	}, nil
}

func (t *trailingStop) ID() string { return "trailing_stop" }

// SetHeldSymbols 接收持仓快照注入。
func (t *trailingStop) SetHeldSymbols(held []broker.HeldSymbol) {
	index := make(map[string]broker.HeldSymbol, len(held))
	for _, h := range held {
		index[broker.SymbolKey(h.Exchange, h.Symbol)] = h
	}
	t.mu.Lock()
	t.held = index
	t.mu.Unlock()
}

func (t *trailingStop) Evaluate(ctx context.Context, sym symbol.Descriptor) (plugin.Result, error) {
	key := sym.Key()

	t.mu.RLock()
	position, held := t.held[key]
	t.mu.RUnlock()
	if !held {
		return plugin.Result{Detail: "未持仓"}, nil
	}

	candles, err := t.client.Candles(ctx, sym.Symbol, t.params.Timeframe, 1)
	if err != nil {
		return plugin.Result{}, err
	}
	if len(candles) == 0 {
		return plugin.Result{Detail: "无最新价"}, nil
	}
	price := candles[len(candles)-1].Close

	high, err := t.stor.RaiseHighMark(ctx, key, price)
	if err != nil {
		return plugin.Result{}, err
	}
	if high <= 0 {
		return plugin.Result{Detail: "水位未建立"}, nil
	}

	drop := (high - price) / high
	if drop < t.params.DropPct {
		return plugin.Result{
			Detail: fmt.Sprintf("回撤 %.2f%% 未达阈值 %.2f%%", drop*100, t.params.DropPct*100),
		}, nil
	}

	if err := t.stor.ClearHighMark(ctx, key); err != nil {
		t.logger.Warn("清除水位失败", zap.String("symbol_key", key), zap.Error(err))
	}

	side := broker.PositionFlat
	if sym.Product == broker.ProductFutures {
		side = broker.PositionShort
		if position.Side == broker.SideSell {
			side = broker.PositionLong
		}
	}

	return plugin.Result{
		Success: true,
		Side:    side,
		Detail:  fmt.Sprintf("回撤 %.2f%% 触发离场 (水位 %.6f)", drop*100, high),
	}, nil
}
