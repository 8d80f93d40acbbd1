package broker

import (
	"strings"
	"time"
)

// Product 标识账户交易的品种类别。
type Product string

const (
	ProductStock   Product = "stock"
	ProductFutures Product = "futures"
)

// PositionSide 表示条件计算得出的方向立场，仅对双向品种(期货)有意义。
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// Directional 判断方向是否为可下单的多/空方向。
func (s PositionSide) Directional() bool {
	return s == PositionLong || s == PositionShort
}

// Side 表示订单买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 描述订单策略支持的操作类别。
type OrderType string

const (
	OrderNewBuy     OrderType = "new_buy"
	OrderNewSell    OrderType = "new_sell"
	OrderModifyBuy  OrderType = "modify_buy"
	OrderModifySell OrderType = "modify_sell"
	OrderCancelBuy  OrderType = "cancel_buy"
	OrderCancelSell OrderType = "cancel_sell"
)

// IsNew 判断给定类型集合中是否包含新建订单。
func IsNew(types []OrderType) bool {
	return containsAny(types, OrderNewBuy, OrderNewSell)
}

// IsModify 判断给定类型集合中是否包含改单。
func IsModify(types []OrderType) bool {
	return containsAny(types, OrderModifyBuy, OrderModifySell)
}

// IsCancel 判断给定类型集合中是否包含撤单。
func IsCancel(types []OrderType) bool {
	return containsAny(types, OrderCancelBuy, OrderCancelSell)
}

func containsAny(types []OrderType, wanted ...OrderType) bool {
	for _, t := range types {
		for _, w := range wanted {
			if t == w {
				return true
			}
		}
	}
	return false
}

// Transition 表示券商推送的订单生命周期迁移。
type Transition string

const (
	TransitionSubmitted      Transition = "submitted"
	TransitionFilled         Transition = "filled"
	TransitionModified       Transition = "modified"
	TransitionCancelRequest  Transition = "cancel_request"
	TransitionCancelComplete Transition = "cancel_complete"
	TransitionRejected       Transition = "rejected"
)

// Candle 表示单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketEntry 描述市场标的全集中的一条记录。
type MarketEntry struct {
	Symbol    string
	Exchange  string
	Name      string
	MarketCap float64
}

// HeldSymbol 表示账户持仓快照中的一条记录。
type HeldSymbol struct {
	Symbol       string
	Exchange     string
	Quantity     float64
	SellableQty  float64
	EntryPrice   float64
	CurrentPrice float64
	PnLRatio     float64
	Side         Side
	Currency     string
}

// NonTradedOrder 表示未成交(挂单中)订单快照中的一条记录。
type NonTradedOrder struct {
	OrderNo      string
	OrigOrderNo  string
	Symbol       string
	Exchange     string
	Side         Side
	Price        float64
	Quantity     float64
	RemainingQty float64
	SubmittedAt  time.Time
}

// Balance 表示账户可用资金与下单可用金额。
type Balance struct {
	Deposit         float64
	OrderableAmount float64
	Currency        string
}

// AccountSnapshot 为一次下单周期采集的账户只读快照。
type AccountSnapshot struct {
	Held      []HeldSymbol
	NonTraded []NonTradedOrder
	Balance   Balance
}

// HeldKeys 返回持仓与挂单涉及的全部 (exchange, symbol) 键。
func (s AccountSnapshot) HeldKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s.Held)+len(s.NonTraded))
	for _, h := range s.Held {
		keys[SymbolKey(h.Exchange, h.Symbol)] = struct{}{}
	}
	for _, n := range s.NonTraded {
		keys[SymbolKey(n.Exchange, n.Symbol)] = struct{}{}
	}
	return keys
}

// SymbolKey 以 (exchange, symbol) 生成去重键。
func SymbolKey(exchange, symbol string) string {
	return strings.ToUpper(strings.TrimSpace(exchange)) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}

// InstructionKind 区分指令是新建、改单还是撤单。
type InstructionKind string

const (
	KindNew    InstructionKind = "new"
	KindModify InstructionKind = "modify"
	KindCancel InstructionKind = "cancel"
)

// OrderInstruction 为订单插件产出的具体下单指令。
type OrderInstruction struct {
	Success     bool
	Kind        InstructionKind
	Product     Product
	Symbol      string
	Exchange    string
	Side        Side
	Price       float64
	Quantity    float64
	PriceType   string
	Currency    string
	OrigOrderNo string
	Reason      string
}

// OrderResult 为券商对一次下单请求的应答。
type OrderResult struct {
	OrderNo      string
	Message      string
	ErrorMessage string
}

// Failed 判断应答是否为失败。
func (r OrderResult) Failed() bool {
	return r.ErrorMessage != ""
}

// OrderEvent 为券商推送的一次订单生命周期事件。
type OrderEvent struct {
	OrderNo      string
	Symbol       string
	Side         Side
	Transition   Transition
	FilledQty    float64
	RemainingQty float64
	Message      string
	ReceivedAt   time.Time
	Payload      map[string]interface{}
}

// Terminal 判断事件是否为终态(完全成交、取消完成、拒绝)。
func (e OrderEvent) Terminal() bool {
	switch e.Transition {
	case TransitionCancelComplete, TransitionRejected:
		return true
	case TransitionFilled:
		return e.RemainingQty <= 0
	}
	return false
}
