package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/event"
	"autotrader/internal/symbol"
)

// Injection 汇总解析器注入给插件的运行时状态。
// 指针字段为 nil 表示本次解析不注入对应内容。
type Injection struct {
	SystemID  string
	Symbol    *symbol.Descriptor
	Available []symbol.Descriptor
	Held      []broker.HeldSymbol
	NonTraded []broker.NonTradedOrder
	Balance   *broker.Balance
}

// Resolver 把插件标识解析成已注入的实例。
//
// 解析成功的实例按 (策略, 插件) 缓存复用。解析失败不缓存：
// 每次请求都重新查找，晚注册的插件下一轮即可生效；相同标识
// 的失败只上报一次错误，解析恢复或 Reset 后重新计数。
type Resolver struct {
	registry *Registry
	bus      *event.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	cache    map[string]Plugin
	reported map[string]struct{}
}

// NewResolver 创建插件解析器。bus 可为 nil，仅记录日志。
func NewResolver(registry *Registry, bus *event.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		registry: registry,
		bus:      bus,
		logger:   logger,
		cache:    make(map[string]Plugin),
		reported: make(map[string]struct{}),
	}
}

// Resolve 解析插件实例。strategyID 用于隔离不同策略的实例缓存。
func (r *Resolver) Resolve(strategyID, pluginID string, params map[string]interface{}) (Plugin, error) {
	key := strategyID + "/" + pluginID

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	factory, ok := r.registry.Lookup(pluginID)
	if !ok {
		err := fmt.Errorf("plugin: 未注册的插件 %q", pluginID)
		r.reportFailure(key, strategyID, pluginID, err)
		return nil, err
	}

	instance, err := factory(params)
	if err != nil {
		err = fmt.Errorf("plugin: 构造插件 %q 失败: %w", pluginID, err)
		r.reportFailure(key, strategyID, pluginID, err)
		return nil, err
	}
	if instance == nil {
		err := fmt.Errorf("plugin: 插件 %q 工厂返回空实例", pluginID)
		r.reportFailure(key, strategyID, pluginID, err)
		return nil, err
	}

	r.cache[key] = instance
	delete(r.reported, key)
	return instance, nil
}

// reportFailure 上报解析失败，相同标识只上报一次。调用方持有 r.mu。
func (r *Resolver) reportFailure(key, strategyID, pluginID string, err error) {
	if _, ok := r.reported[key]; ok {
		return
	}
	r.reported[key] = struct{}{}

	r.logger.Error("插件解析失败",
		zap.String("strategy_id", strategyID),
		zap.String("plugin_id", pluginID),
		zap.Error(err),
	)
	if r.bus != nil {
		r.bus.PublishError(event.ErrorEvent{
			StrategyID: strategyID,
			Source:     "plugin:" + pluginID,
			Err:        err,
		})
	}
}

// Inject 按需把运行时状态注入插件实例。
func (r *Resolver) Inject(p Plugin, injection Injection) {
	if p == nil {
		return
	}

	if sink, ok := p.(SystemIDSink); ok && injection.SystemID != "" {
		sink.SetSystemID(injection.SystemID)
	}
	if sink, ok := p.(SymbolSink); ok && injection.Symbol != nil {
		sink.SetSymbol(*injection.Symbol)
	}
	if sink, ok := p.(AvailableSymbolsSink); ok && injection.Available != nil {
		sink.SetAvailableSymbols(injection.Available)
	}
	if sink, ok := p.(HeldSymbolsSink); ok && injection.Held != nil {
		sink.SetHeldSymbols(injection.Held)
	}
	if sink, ok := p.(NonTradedSink); ok && injection.NonTraded != nil {
		sink.SetNonTradedOrders(injection.NonTraded)
	}
	if sink, ok := p.(BalanceSink); ok && injection.Balance != nil {
		sink.SetBalance(*injection.Balance)
	}
}

// Reset 清空实例缓存与失败上报去重状态。
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Plugin)
	r.reported = make(map[string]struct{})
}
