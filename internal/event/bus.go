package event

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/broker"
)

// StrategyHandler 接收策略生命周期消息。
type StrategyHandler func(StrategyMessage)

// OrderHandler 接收券商订单事件。
type OrderHandler func(broker.OrderEvent)

// ErrorHandler 接收执行错误。
type ErrorHandler func(ErrorEvent)

// Bus 是进程内的观察者总线。
//
// 三类回调各自独立注册，发布时按注册顺序同步触发，
// 回调方负责自身的阻塞控制。
type Bus struct {
	mu       sync.RWMutex
	strategy []StrategyHandler
	order    []OrderHandler
	errs     []ErrorHandler
	logger   *zap.Logger
}

// NewBus 创建观察者总线。
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// OnStrategyMessage 注册策略消息回调。
func (b *Bus) OnStrategyMessage(handler StrategyHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.strategy = append(b.strategy, handler)
	b.mu.Unlock()
}

// OnOrderEvent 注册订单事件回调。
func (b *Bus) OnOrderEvent(handler OrderHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.order = append(b.order, handler)
	b.mu.Unlock()
}

// OnError 注册错误回调。
func (b *Bus) OnError(handler ErrorHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.errs = append(b.errs, handler)
	b.mu.Unlock()
}

// PublishStrategy 广播策略消息。
func (b *Bus) PublishStrategy(msg StrategyMessage) {
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]StrategyHandler, len(b.strategy))
	copy(handlers, b.strategy)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(msg)
	}
}

// PublishOrder 广播订单事件。
func (b *Bus) PublishOrder(evt broker.OrderEvent) {
	b.mu.RLock()
	handlers := make([]OrderHandler, len(b.order))
	copy(handlers, b.order)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

// PublishError 广播执行错误。
func (b *Bus) PublishError(evt ErrorEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]ErrorHandler, len(b.errs))
	copy(handlers, b.errs)
	b.mu.RUnlock()

	if len(handlers) == 0 && evt.Err != nil {
		b.logger.Error("未注册错误回调，仅记录日志",
			zap.String("strategy_id", evt.StrategyID),
			zap.String("source", evt.Source),
			zap.Error(evt.Err),
		)
		return
	}

	for _, handler := range handlers {
		handler(evt)
	}
}
