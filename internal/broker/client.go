package broker

import "context"

// EventHandler 接收券商推送的订单事件。实现方必须保证回调不被长时间阻塞。
type EventHandler func(OrderEvent)

// Client 定义核心引擎依赖的券商能力契约。
//
// 引擎只消费这组窄接口，不关心底层线路协议；一次运行期间所有调用都
// 携带 context，阻塞型调用在 context 取消后应尽快返回。
type Client interface {
	// IsLoggedIn 返回当前会话是否已经登录。
	IsLoggedIn() bool
	// Login 使用配置中的凭证登录，paperTrading 为真时进入模拟盘。
	Login(ctx context.Context, paperTrading bool) error

	// MarketUniverse 返回可交易标的全集。
	MarketUniverse(ctx context.Context, product Product) ([]MarketEntry, error)
	// HeldSymbols 返回持仓快照。
	HeldSymbols(ctx context.Context) ([]HeldSymbol, error)
	// NonTradedOrders 返回未成交订单快照。
	NonTradedOrders(ctx context.Context) ([]NonTradedOrder, error)
	// AvailableBalance 返回可用资金。
	AvailableBalance(ctx context.Context) (Balance, error)
	// Candles 返回指定标的的K线，供内置条件插件计算指标。
	Candles(ctx context.Context, symbol string, timeframe string, limit int64) ([]Candle, error)

	// SubmitOrder 提交一条下单指令并返回券商应答。
	SubmitOrder(ctx context.Context, instruction OrderInstruction) (OrderResult, error)
	// SubscribeOrders 注册订单事件回调并维持推送，直到 context 取消。
	SubscribeOrders(ctx context.Context, handler EventHandler) error
}
