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

type rsiBandParams struct {
	Timeframe  string  `mapstructure:"timeframe"`
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	Limit      int64   `mapstructure:"limit"`
}

// rsiBand 在 RSI 进入超卖区时看多，进入超买区时看空。
type rsiBand struct {
	client broker.Client
	logger *zap.Logger
	params rsiBandParams
}

func newRSIBand(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	p := rsiBandParams{Timeframe: "1h", Period: 14, Oversold: 30, Overbought: 70, Limit: 120}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Period <= 1 {
		return nil, fmt.Errorf("plugins: rsi_band 的 period 必须大于1")
	}
	if p.Oversold >= p.Overbought {
		return nil, fmt.Errorf("plugins: rsi_band 要求 oversold < overbought")
	}
	if p.Limit < int64(p.Period)+2 {
		p.Limit = int64(p.Period) + 2
	}
	return &rsiBand{client: deps.Client, logger: deps.Logger, params: p}, nil
}

func (r *rsiBand) ID() string { return "rsi_band" }

func (r *rsiBand) Evaluate(ctx context.Context, sym symbol.Descriptor) (plugin.Result, error) {
	candles, err := r.client.Candles(ctx, sym.Symbol, r.params.Timeframe, r.params.Limit)
	if err != nil {
		return plugin.Result{}, err
	}
	if len(candles) < r.params.Period+2 {
		return plugin.Result{Detail: "K线数量不足"}, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi := talib.Rsi(closes, r.params.Period)
	current := rsi[len(rsi)-1]

	switch {
	case current <= r.params.Oversold:
		return plugin.Result{
			Success: true,
			Side:    broker.PositionLong,
			Detail:  fmt.Sprintf("RSI %.2f 进入超卖区", current),
		}, nil
	case current >= r.params.Overbought && sym.Product == broker.ProductFutures:
		return plugin.Result{
			Success: true,
			Side:    broker.PositionShort,
			Detail:  fmt.Sprintf("RSI %.2f 进入超买区", current),
		}, nil
	default:
		return plugin.Result{Detail: fmt.Sprintf("RSI %.2f 处于中性区间", current)}, nil
	}
}
