package plugin

import (
	"context"

	"autotrader/internal/broker"
	"autotrader/internal/symbol"
)

// Plugin 是所有插件的最小契约。
type Plugin interface {
	ID() string
}

// Result 表示条件插件对单个标的的评估结果。
//
// 期货标的要求 Side 给出明确方向，未给出方向的成功结果
// 会在逻辑合成阶段被判定为失败。
type Result struct {
	Success bool
	Side    broker.PositionSide
	Weight  int
	Detail  string
}

// Condition 是条件插件的能力接口。
type Condition interface {
	Plugin
	Evaluate(ctx context.Context, sym symbol.Descriptor) (Result, error)
}

// Signal 描述条件合成通过后传递给下单插件的信号。
type Signal struct {
	StrategyID string
	Symbol     symbol.Descriptor
	Side       broker.PositionSide
	Weight     int
}

// Order 是下单插件的能力接口。OrderTypes 声明插件会产生的
// 订单类别，标的来源按此裁剪。
type Order interface {
	Plugin
	OrderTypes() []broker.OrderType
	Decide(ctx context.Context, signal Signal) ([]broker.OrderInstruction, error)
}

// OrderEventReceiver 由希望接收订单事件的插件实现，
// 回调在分发循环之外的 goroutine 中触发。
type OrderEventReceiver interface {
	OnOrderEvent(evt broker.OrderEvent)
}

// LoopOrderEventReceiver 由需要在分发循环内串行处理事件的
// 插件实现，实现方不得长时间阻塞。
type LoopOrderEventReceiver interface {
	OnOrderEventInLoop(evt broker.OrderEvent)
}

// 以下注入接口按需实现，解析器在注入阶段逐一探测。

// SystemIDSink 接收策略标识注入。
type SystemIDSink interface {
	SetSystemID(id string)
}

// SymbolSink 接收当前标的注入。
type SymbolSink interface {
	SetSymbol(sym symbol.Descriptor)
}

// AvailableSymbolsSink 接收可交易标的全集注入。
type AvailableSymbolsSink interface {
	SetAvailableSymbols(symbols []symbol.Descriptor)
}

// HeldSymbolsSink 接收持仓快照注入。
type HeldSymbolsSink interface {
	SetHeldSymbols(held []broker.HeldSymbol)
}

// NonTradedSink 接收未成交订单快照注入。
type NonTradedSink interface {
	SetNonTradedOrders(orders []broker.NonTradedOrder)
}

// BalanceSink 接收可用资金注入。
type BalanceSink interface {
	SetBalance(balance broker.Balance)
}
