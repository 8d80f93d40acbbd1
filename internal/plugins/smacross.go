package plugins

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
	"autotrader/internal/symbol"
)

type smaCrossParams struct {
	Timeframe string `mapstructure:"timeframe"`
	Fast      int    `mapstructure:"fast"`
	Slow      int    `mapstructure:"slow"`
	Limit     int64  `mapstructure:"limit"`
}

// smaCross 在快慢均线交叉时给出方向信号：金叉看多，死叉看空。
type smaCross struct {
	client broker.Client
	logger *zap.Logger
	params smaCrossParams
}

func newSMACross(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	p := smaCrossParams{Timeframe: "1h", Fast: 10, Slow: 30, Limit: 120}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Fast <= 0 || p.Slow <= 0 || p.Fast >= p.Slow {
		return nil, fmt.Errorf("plugins: sma_cross 参数要求 0 < fast < slow")
	}
	if p.Limit < int64(p.Slow)+2 {
		p.Limit = int64(p.Slow) + 2
	}
	return &smaCross{client: deps.Client, logger: deps.Logger, params: p}, nil
}

func (s *smaCross) ID() string { return "sma_cross" }

func (s *smaCross) Evaluate(ctx context.Context, sym symbol.Descriptor) (plugin.Result, error) {
	candles, err := s.client.Candles(ctx, sym.Symbol, s.params.Timeframe, s.params.Limit)
	if err != nil {
		return plugin.Result{}, err
	}
	if len(candles) < s.params.Slow+2 {
		return plugin.Result{Detail: "K线数量不足"}, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := talib.Sma(closes, s.params.Fast)
	slow := talib.Sma(closes, s.params.Slow)

	last := len(closes) - 1
	prev := last - 1

	goldenCross := fast[prev] <= slow[prev] && fast[last] > slow[last]
	deathCross := fast[prev] >= slow[prev] && fast[last] < slow[last]

	switch {
	case goldenCross:
		return plugin.Result{
			Success: true,
			Side:    broker.PositionLong,
			Detail:  fmt.Sprintf("金叉 fast=%.4f slow=%.4f", fast[last], slow[last]),
		}, nil
	case deathCross && sym.Product == broker.ProductFutures:
		return plugin.Result{
			Success: true,
			Side:    broker.PositionShort,
			Detail:  fmt.Sprintf("死叉 fast=%.4f slow=%.4f", fast[last], slow[last]),
		}, nil
	default:
		return plugin.Result{Detail: "无交叉信号"}, nil
	}
}
