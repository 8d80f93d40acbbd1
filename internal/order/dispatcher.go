package order

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/event"
	"autotrader/internal/plugin"
)

const defaultQueueSize = 256

// Dispatcher 把券商推送的订单事件路由给产生该订单的插件实例。
//
// HandlePush 在券商回调 goroutine 中被调用，事件经缓冲通道
// 交接给 Run 循环。订单号尚未绑定插件时事件进入该订单号的
// FIFO 待投队列，绑定建立后按原顺序补投。终态事件投递完成后
// 清除绑定与队列。
type Dispatcher struct {
	queue  chan broker.OrderEvent
	bus    *event.Bus
	logger *zap.Logger

	// deliverMu 串行化投递，保证补投积压期间到达的新事件
	// 不会插队到积压事件之前。先取 deliverMu 再取 mu。
	deliverMu sync.Mutex

	mu       sync.Mutex
	bindings map[string]plugin.Plugin
	pending  map[string][]broker.OrderEvent
}

// NewDispatcher 创建订单事件分发器。
func NewDispatcher(queueSize int, bus *event.Bus, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    make(chan broker.OrderEvent, queueSize),
		bus:      bus,
		logger:   logger,
		bindings: make(map[string]plugin.Plugin),
		pending:  make(map[string][]broker.OrderEvent),
	}
}

// HandlePush 接收券商推送。队列已满时丢弃并告警，不阻塞回调方。
func (d *Dispatcher) HandlePush(evt broker.OrderEvent) {
	select {
	case d.queue <- evt:
	default:
		d.logger.Warn("分发队列已满，丢弃订单事件",
			zap.String("order_no", evt.OrderNo),
			zap.String("transition", string(evt.Transition)),
		)
	}
}

// Bind 建立订单号到插件实例的绑定，并按序补投积压事件。
// 实例为空时不建立绑定，积压事件继续等待。
func (d *Dispatcher) Bind(orderNo string, instance plugin.Plugin) {
	if orderNo == "" || instance == nil {
		return
	}

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	d.bindings[orderNo] = instance
	backlog := d.pending[orderNo]
	delete(d.pending, orderNo)
	d.mu.Unlock()

	for _, evt := range backlog {
		d.deliverTo(instance, evt)
		if evt.Terminal() {
			d.unbind(orderNo)
		}
	}
}

// Run 消费事件队列直到上下文取消。
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("订单事件分发循环退出")
			return
		case evt := <-d.queue:
			d.dispatch(evt)
		}
	}
}

func (d *Dispatcher) dispatch(evt broker.OrderEvent) {
	if d.bus != nil {
		d.bus.PublishOrder(evt)
	}
	if evt.OrderNo == "" {
		d.logger.Warn("订单事件缺少订单号", zap.String("transition", string(evt.Transition)))
		return
	}

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	instance, bound := d.bindings[evt.OrderNo]
	if !bound {
		d.pending[evt.OrderNo] = append(d.pending[evt.OrderNo], evt)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.deliverTo(instance, evt)
	if evt.Terminal() {
		d.unbind(evt.OrderNo)
	}
}

// deliverTo 按插件声明的接收方式投递：循环内接收方在当前
// goroutine 串行调用，普通接收方另起 goroutine 隔离阻塞。
func (d *Dispatcher) deliverTo(instance plugin.Plugin, evt broker.OrderEvent) {
	if receiver, ok := instance.(plugin.LoopOrderEventReceiver); ok {
		receiver.OnOrderEventInLoop(evt)
		return
	}
	if receiver, ok := instance.(plugin.OrderEventReceiver); ok {
		go receiver.OnOrderEvent(evt)
		return
	}

	d.logger.Debug("插件未实现订单事件接收",
		zap.String("plugin_id", instance.ID()),
		zap.String("order_no", evt.OrderNo),
	)
}

func (d *Dispatcher) unbind(orderNo string) {
	d.mu.Lock()
	delete(d.bindings, orderNo)
	delete(d.pending, orderNo)
	d.mu.Unlock()
}

// PendingCount 返回指定订单号的积压事件数量。
func (d *Dispatcher) PendingCount(orderNo string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[orderNo])
}

// Bound 返回订单号当前是否存在绑定。
func (d *Dispatcher) Bound(orderNo string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bindings[orderNo]
	return ok
}
