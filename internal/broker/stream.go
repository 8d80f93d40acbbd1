package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// trackedOrder 记录上一次轮询观察到的订单状态，用于推导状态迁移。
type trackedOrder struct {
	symbol    string
	side      Side
	filled    float64
	remaining float64
}

// SubscribeOrders 启动订单事件订阅。
//
// ccxt 的 REST 通道没有推送能力，这里通过周期性轮询各市场挂单、
// 对比前后两次快照来合成事件流：新出现的订单号产生 submitted，
// 成交量增长产生 filled，从挂单列表消失的订单按终态补发
// filled 或 cancel_complete。回调在订阅 goroutine 内串行触发。
func (c *CCXTClient) SubscribeOrders(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return errors.New("订单订阅缺少回调")
	}
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}

	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	go c.pollOrders(ctx, interval, handler)
	c.logger.Info("订单事件订阅已启动", zap.Duration("interval", interval))
	return nil
}

func (c *CCXTClient) pollOrders(ctx context.Context, interval time.Duration, handler EventHandler) {
	known := make(map[string]trackedOrder)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("订单事件订阅已停止")
			return
		case <-ticker.C:
		}

		open, err := c.snapshotOpenOrders(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("订单轮询失败", zap.Error(err))
			continue
		}

		now := time.Now().UTC()
		seen := make(map[string]struct{}, len(open))

		for _, order := range open {
			orderNo := derefString(order.Id)
			if orderNo == "" {
				continue
			}
			seen[orderNo] = struct{}{}

			current := trackedOrder{
				symbol:    derefString(order.Symbol),
				side:      sideFromCCXT(derefString(order.Side)),
				filled:    derefFloat(order.Filled),
				remaining: derefFloat(order.Remaining),
			}

			prev, tracked := known[orderNo]
			known[orderNo] = current

			if !tracked {
				handler(OrderEvent{
					OrderNo:      orderNo,
					Symbol:       current.symbol,
					Side:         current.side,
					Transition:   TransitionSubmitted,
					FilledQty:    current.filled,
					RemainingQty: current.remaining,
					ReceivedAt:   now,
				})
				if current.filled > 0 {
					handler(OrderEvent{
						OrderNo:      orderNo,
						Symbol:       current.symbol,
						Side:         current.side,
						Transition:   TransitionFilled,
						FilledQty:    current.filled,
						RemainingQty: current.remaining,
						ReceivedAt:   now,
					})
				}
				continue
			}

			if current.filled > prev.filled {
				handler(OrderEvent{
					OrderNo:      orderNo,
					Symbol:       current.symbol,
					Side:         current.side,
					Transition:   TransitionFilled,
					FilledQty:    current.filled,
					RemainingQty: current.remaining,
					ReceivedAt:   now,
				})
			}
		}

		for orderNo, prev := range known {
			if _, stillOpen := seen[orderNo]; stillOpen {
				continue
			}
			delete(known, orderNo)
			handler(c.resolveClosedOrder(ctx, orderNo, prev, now))
		}
	}
}

// resolveClosedOrder 查询离开挂单列表的订单终态。查询失败时按
// 剩余量推断：已有剩余量归零视为全部成交，否则视为撤单完成。
func (c *CCXTClient) resolveClosedOrder(ctx context.Context, orderNo string, prev trackedOrder, now time.Time) OrderEvent {
	event := OrderEvent{
		OrderNo:    orderNo,
		Symbol:     prev.symbol,
		Side:       prev.side,
		ReceivedAt: now,
	}

	var final ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		result, callErr := c.exchange.FetchOrder(orderNo, ccxt.WithFetchOrderSymbol(prev.symbol))
		if callErr != nil {
			return callErr
		}
		final = result
		return nil
	})
	if err != nil {
		c.logger.Warn("终态查询失败，按剩余量推断",
			zap.String("order_no", orderNo),
			zap.Error(err),
		)
		if prev.remaining <= 0 {
			event.Transition = TransitionFilled
			event.FilledQty = prev.filled
			return event
		}
		event.Transition = TransitionCancelComplete
		event.FilledQty = prev.filled
		event.RemainingQty = prev.remaining
		return event
	}

	event.FilledQty = derefFloat(final.Filled)
	event.RemainingQty = derefFloat(final.Remaining)
	event.Message = derefString(final.Status)

	switch strings.ToLower(derefString(final.Status)) {
	case "closed":
		event.Transition = TransitionFilled
		event.RemainingQty = 0
	case "canceled", "cancelled", "expired":
		event.Transition = TransitionCancelComplete
	case "rejected":
		event.Transition = TransitionRejected
	default:
		event.Transition = TransitionFilled
	}
	return event
}

func (c *CCXTClient) snapshotOpenOrders(ctx context.Context) ([]ccxt.Order, error) {
	var all []ccxt.Order
	for _, market := range c.cfg.Markets {
		var raw []ccxt.Order
		err := c.callWithRetry(ctx, "poll_open_orders", func() error {
			orders, callErr := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(market))
			if callErr != nil {
				return callErr
			}
			raw = orders
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, raw...)
	}
	return all, nil
}

func sideFromCCXT(side string) Side {
	if strings.EqualFold(side, "sell") {
		return SideSell
	}
	return SideBuy
}
