package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/condition"
	"autotrader/internal/config"
	"autotrader/internal/event"
	"autotrader/internal/order"
	"autotrader/internal/plugin"
	"autotrader/internal/symbol"
)

// cron 表达式允许可选的秒字段，并支持 @every 等描述符。
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// orderRuntime 是一个下单策略装配后的形态，window 为 nil 时
// 该下单策略不受交易时段约束。
type orderRuntime struct {
	spec   order.StrategySpec
	window *Window
}

// strategyRuntime 是一条策略装配完成后的运行时形态。
type strategyRuntime struct {
	cfg      config.StrategyConfig
	product  broker.Product
	schedule cron.Schedule
	loc      *time.Location
	spec     condition.Spec
	orders   []orderRuntime
	types    []broker.OrderType
}

// Engine 按 cron 调度每条策略：解析标的、评估条件树、
// 触发下单插件，期间的生命周期消息都经由总线广播。
type Engine struct {
	conditions *condition.Executor
	orders     *order.Executor
	symbols    symbol.Provider
	resolver   *plugin.Resolver
	bus        *event.Bus
	logger     *zap.Logger

	now func() time.Time
}

// New 创建策略引擎。
func New(conditions *condition.Executor, orders *order.Executor, symbols symbol.Provider, resolver *plugin.Resolver, bus *event.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conditions: conditions,
		orders:     orders,
		symbols:    symbols,
		resolver:   resolver,
		bus:        bus,
		logger:     logger,
		now:        func() time.Time { return time.Now() },
	}
}

// Run 装配并调度全部策略，阻塞直到上下文取消且所有循环退出。
func (e *Engine) Run(ctx context.Context, strategies []config.StrategyConfig) error {
	runtimes := make([]*strategyRuntime, 0, len(strategies))
	for _, cfg := range strategies {
		runtime, err := e.assemble(cfg)
		if err != nil {
			return err
		}
		runtimes = append(runtimes, runtime)
	}

	var wg sync.WaitGroup
	for _, runtime := range runtimes {
		wg.Add(1)
		go func(rt *strategyRuntime) {
			defer wg.Done()
			e.runStrategy(ctx, rt)
		}(runtime)
	}
	wg.Wait()

	e.bus.PublishStrategy(event.StrategyMessage{
		Kind:   event.KindShutdown,
		Detail: "全部策略循环已退出",
	})
	return nil
}

// assemble 把策略配置解析成运行时形态，任何解析错误都在
// 启动阶段暴露。
func (e *Engine) assemble(cfg config.StrategyConfig) (*strategyRuntime, error) {
	nodes, err := condition.ParseNodes(cfg.Conditions)
	if err != nil {
		return nil, fmt.Errorf("engine: 策略 %q 条件树无效: %w", cfg.ID, err)
	}

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("engine: 策略 %q 时区无效: %w", cfg.ID, err)
		}
	}

	var schedule cron.Schedule
	if cfg.Cron != "" {
		schedule, err = cronParser.Parse(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("engine: 策略 %q 的 cron 表达式无效: %w", cfg.ID, err)
		}
	}

	product := broker.ProductStock
	if strings.EqualFold(cfg.Product, string(broker.ProductFutures)) {
		product = broker.ProductFutures
	}

	runtime := &strategyRuntime{
		cfg:      cfg,
		product:  product,
		schedule: schedule,
		loc:      loc,
		spec: condition.Spec{
			StrategyID:  cfg.ID,
			Product:     product,
			Logic:       cfg.Logic,
			Threshold:   cfg.Threshold,
			Nodes:       nodes,
			Concurrency: cfg.EvalConcurrency,
		},
	}

	for _, o := range cfg.Orders {
		window, err := ParseWindow(o.Window)
		if err != nil {
			return nil, fmt.Errorf("engine: 策略 %q 的下单插件 %q 时段无效: %w", cfg.ID, o.ID, err)
		}
		runtime.orders = append(runtime.orders, orderRuntime{
			spec: order.StrategySpec{
				ID:                o.ID,
				Params:            o.Params,
				BlockDuplicateBuy: o.BlockDuplicateBuy,
			},
			window: window,
		})

		instance, err := e.resolver.Resolve(cfg.ID, o.ID, o.Params)
		if err != nil {
			return nil, fmt.Errorf("engine: 策略 %q 的下单插件 %q 解析失败: %w", cfg.ID, o.ID, err)
		}
		orderPlugin, ok := instance.(plugin.Order)
		if !ok {
			return nil, fmt.Errorf("engine: 策略 %q 的插件 %q 不具备下单能力", cfg.ID, o.ID)
		}
		runtime.types = append(runtime.types, orderPlugin.OrderTypes()...)
	}

	return runtime, nil
}

func (e *Engine) runStrategy(ctx context.Context, rt *strategyRuntime) {
	logger := e.logger.With(zap.String("strategy_id", rt.cfg.ID))
	logger.Info("策略循环启动",
		zap.String("cron", rt.cfg.Cron),
		zap.String("timezone", rt.loc.String()),
		zap.Int("count", rt.cfg.Count),
		zap.Bool("run_once_on_start", rt.cfg.RunOnceOnStart),
	)

	e.bus.PublishStrategy(event.StrategyMessage{
		StrategyID: rt.cfg.ID,
		Kind:       event.KindStarted,
		Detail:     rt.cfg.Description,
	})

	executed := 0

	// 无 cron 表达式的策略恰好执行一次后退出。
	if rt.cfg.RunOnceOnStart || rt.schedule == nil {
		if e.runCycle(ctx, rt, logger) {
			executed++
		}
	}

	if rt.schedule == nil {
		logger.Info("策略无 cron 表达式，单次执行后退出")
		return
	}

	for {
		if rt.cfg.Count > 0 && executed >= rt.cfg.Count {
			logger.Info("策略达到执行次数上限", zap.Int("executed", executed))
			e.bus.PublishStrategy(event.StrategyMessage{
				StrategyID: rt.cfg.ID,
				Kind:       event.KindExhausted,
				Detail:     fmt.Sprintf("执行 %d 次后停止", executed),
			})
			return
		}

		next := rt.schedule.Next(e.now().In(rt.loc))
		if next.IsZero() {
			logger.Warn("cron 无后续触发时刻，策略循环退出")
			return
		}
		if !e.sleepUntil(ctx, next) {
			return
		}

		if e.runCycle(ctx, rt, logger) {
			executed++
		}
	}
}

// runCycle 执行一轮评估并上报失败。返回本次是否计入执行次数。
func (e *Engine) runCycle(ctx context.Context, rt *strategyRuntime, logger *zap.Logger) bool {
	if err := e.runOnce(ctx, rt, logger); err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Error("策略执行失败", zap.Error(err))
		e.bus.PublishError(event.ErrorEvent{
			StrategyID: rt.cfg.ID,
			Source:     "engine",
			Err:        err,
		})
	}
	return true
}

// runOnce 执行一轮完整评估：解析标的、裁剪数量、合成条件、
// 再按各下单策略的交易时段出手。
func (e *Engine) runOnce(ctx context.Context, rt *strategyRuntime, logger *zap.Logger) error {
	configured := make([]symbol.Descriptor, 0, len(rt.cfg.Symbols))
	for _, s := range rt.cfg.Symbols {
		configured = append(configured, symbol.Descriptor{
			Symbol:    s.Symbol,
			Exchange:  s.Exchange,
			Name:      s.Name,
			MarketCap: s.MarketCap,
			Product:   rt.product,
		})
	}

	symbols, err := e.symbols.Resolve(ctx, symbol.Request{
		Product:    rt.product,
		Configured: configured,
		OrderTypes: rt.types,
		WatchList:  rt.cfg.WatchList,
	})
	if err != nil {
		return err
	}

	switch strings.ToLower(rt.cfg.MaxSymbols.SortBy) {
	case "market_cap":
		symbol.SortByMarketCap(symbols)
	case "random":
		symbol.Shuffle(symbols)
	default:
		// 限流但未指定排序时随机抽样，避免固定偏向列表前部。
		if rt.cfg.MaxSymbols.Limit > 0 {
			symbol.Shuffle(symbols)
		}
	}
	symbols = symbol.Truncate(symbols, rt.cfg.MaxSymbols.Limit)

	if len(symbols) == 0 {
		logger.Info("无可评估标的，本轮结束")
		return nil
	}

	matches, err := e.conditions.Evaluate(ctx, rt.spec, symbols, plugin.Injection{Available: symbols})
	if err != nil {
		return err
	}

	logger.Info("条件评估完成",
		zap.Int("symbols", len(symbols)),
		zap.Int("matched", len(matches)),
	)
	e.bus.PublishStrategy(event.StrategyMessage{
		StrategyID: rt.cfg.ID,
		Kind:       event.KindEvaluated,
		Detail:     fmt.Sprintf("评估 %d 个标的", len(symbols)),
		Matched:    len(matches),
	})

	if len(matches) == 0 {
		return nil
	}
	return e.dispatchOrders(ctx, rt, matches, logger)
}

// deferredOrder 记录顺延到窗口开始再出手的下单策略。
type deferredOrder struct {
	spec  order.StrategySpec
	start time.Time
}

// dispatchOrders 按各下单策略的交易时段出手：窗内的立即执行，
// 窗外的按 on_outside 顺延或跳过。条件评估结果沿用触发时刻的。
func (e *Engine) dispatchOrders(ctx context.Context, rt *strategyRuntime, matches []condition.Match, logger *zap.Logger) error {
	now := e.now()

	immediate := make([]order.StrategySpec, 0, len(rt.orders))
	var deferred []deferredOrder

	for _, or := range rt.orders {
		if or.window == nil || or.window.Contains(now) {
			immediate = append(immediate, or.spec)
			continue
		}

		if or.window.Skip() {
			logger.Info("下单策略在时段外，跳过出手", zap.String("order_id", or.spec.ID))
			e.bus.PublishStrategy(event.StrategyMessage{
				StrategyID: rt.cfg.ID,
				Kind:       event.KindSkipped,
				Detail:     fmt.Sprintf("下单插件 %s 在交易时段外", or.spec.ID),
			})
			continue
		}

		start, ok := or.window.NextStart(now)
		if !ok {
			logger.Warn("未找到下一个时段开始时刻，跳过出手", zap.String("order_id", or.spec.ID))
			continue
		}

		delay := start.Sub(now)
		if max := or.window.MaxDelay(); max > 0 && delay > max {
			logger.Info("顺延超出上限，跳过出手",
				zap.String("order_id", or.spec.ID),
				zap.Duration("delay", delay),
				zap.Duration("max_delay", max),
			)
			e.bus.PublishStrategy(event.StrategyMessage{
				StrategyID: rt.cfg.ID,
				Kind:       event.KindSkipped,
				Detail:     fmt.Sprintf("下单插件 %s 顺延 %s 超出上限 %s", or.spec.ID, delay, max),
			})
			continue
		}

		logger.Info("下单策略在时段外，顺延到时段开始",
			zap.String("order_id", or.spec.ID),
			zap.Duration("delay", delay),
		)
		e.bus.PublishStrategy(event.StrategyMessage{
			StrategyID: rt.cfg.ID,
			Kind:       event.KindDeferred,
			Detail:     fmt.Sprintf("下单插件 %s 顺延 %s 到时段开始", or.spec.ID, delay),
		})
		deferred = append(deferred, deferredOrder{spec: or.spec, start: start})
	}

	if len(immediate) > 0 {
		if err := e.orders.Execute(ctx, rt.cfg.ID, immediate, matches); err != nil {
			return err
		}
	}
	for _, d := range deferred {
		if !e.sleepUntil(ctx, d.start) {
			return ctx.Err()
		}
		if err := e.orders.Execute(ctx, rt.cfg.ID, []order.StrategySpec{d.spec}, matches); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sleepUntil(ctx context.Context, deadline time.Time) bool {
	wait := deadline.Sub(e.now())
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
