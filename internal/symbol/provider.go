package symbol

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autotrader/internal/broker"
)

// Request 描述一次标的解析请求。
//
// 标的来源由订单类别决定：仅新建订单时使用配置标的(为空则退回
// 标的全集)，涉及卖出、改单或撤单时并入持仓与未成交订单中的标的。
type Request struct {
	Product    broker.Product
	Configured []Descriptor
	OrderTypes []broker.OrderType
	WatchList  []string
}

// Provider 把解析请求变成参与评估的标的列表。
type Provider interface {
	Resolve(ctx context.Context, req Request) ([]Descriptor, error)
}

// BrokerProvider 基于券商快照实现 Provider。
type BrokerProvider struct {
	client broker.Client
	logger *zap.Logger
}

// NewBrokerProvider 创建券商标的源。
func NewBrokerProvider(client broker.Client, logger *zap.Logger) *BrokerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerProvider{client: client, logger: logger}
}

// Resolve 按订单类别聚合标的来源，去重后返回。
func (p *BrokerProvider) Resolve(ctx context.Context, req Request) ([]Descriptor, error) {
	var symbols []Descriptor

	if broker.IsNew(req.OrderTypes) || len(req.OrderTypes) == 0 {
		base := req.Configured
		if len(base) == 0 {
			universe, err := p.universe(ctx, req.Product)
			if err != nil {
				return nil, err
			}
			base = universe
		}
		symbols = append(symbols, base...)
	}

	// 期货策略始终并入当前持仓，保证在途头寸可被平仓条件覆盖。
	needHeld := req.Product == broker.ProductFutures
	for _, ot := range req.OrderTypes {
		if ot == broker.OrderNewSell {
			needHeld = true
		}
	}
	needNonTraded := broker.IsModify(req.OrderTypes) || broker.IsCancel(req.OrderTypes)

	if needHeld {
		held, err := p.client.HeldSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("symbol: 获取持仓标的失败: %w", err)
		}
		for _, h := range held {
			symbols = append(symbols, Descriptor{
				Symbol:   h.Symbol,
				Exchange: h.Exchange,
				Product:  req.Product,
			})
		}
	}

	if needNonTraded {
		pending, err := p.client.NonTradedOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("symbol: 获取未成交标的失败: %w", err)
		}
		for _, o := range pending {
			symbols = append(symbols, Descriptor{
				Symbol:   o.Symbol,
				Exchange: o.Exchange,
				Product:  req.Product,
			})
		}
	}

	symbols = Intersect(symbols, req.WatchList)
	symbols = Dedup(symbols)

	p.logger.Debug("标的解析完成",
		zap.Int("count", len(symbols)),
		zap.String("product", string(req.Product)),
	)
	return symbols, nil
}

func (p *BrokerProvider) universe(ctx context.Context, product broker.Product) ([]Descriptor, error) {
	entries, err := p.client.MarketUniverse(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("symbol: 获取标的全集失败: %w", err)
	}

	symbols := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, Descriptor{
			Symbol:    e.Symbol,
			Exchange:  e.Exchange,
			Name:      e.Name,
			MarketCap: e.MarketCap,
			Product:   product,
		})
	}
	return symbols, nil
}
