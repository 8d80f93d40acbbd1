package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/condition"
	"autotrader/internal/config"
	"autotrader/internal/engine"
	"autotrader/internal/event"
	"autotrader/internal/order"
	"autotrader/internal/plugin"
	"autotrader/internal/plugins"
	"autotrader/internal/store"
	"autotrader/internal/symbol"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配各子系统并阻塞运行，直到上下文取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Broker.Exchange),
		zap.Strings("markets", a.cfg.Broker.Markets),
		zap.Int("strategies", len(a.cfg.Strategies)),
	)

	journal, err := store.NewJournal(a.store.DB())
	if err != nil {
		return err
	}
	trailing, err := store.NewTrailingStore(a.store.DB())
	if err != nil {
		return err
	}

	client, err := broker.NewCCXTClient(broker.Config{
		Exchange:  a.cfg.Broker.Exchange,
		Markets:   a.cfg.Broker.Markets,
		APIKey:    a.cfg.Broker.APIKey,
		APISecret: a.cfg.Broker.APISecret,
		APIPass:   a.cfg.Broker.APIPass,
		Retry: broker.RetryConfig{
			MaxAttempts: a.cfg.Broker.Retry.MaxAttempts,
			MinDelay:    a.cfg.Broker.Retry.MinDelay,
			MaxDelay:    a.cfg.Broker.Retry.MaxDelay,
		},
		PollInterval: a.cfg.Broker.PollInterval,
	}, a.cfg.App.PaperTrading, a.logger)
	if err != nil {
		return err
	}

	if err := client.Login(ctx, a.cfg.App.PaperTrading); err != nil {
		return fmt.Errorf("app: 券商登录失败: %w", err)
	}

	bus := event.NewBus(a.logger)
	event.NewRecorder(bus, journal, a.logger)
	bus.OnError(func(evt event.ErrorEvent) {
		a.logger.Error("策略错误上报",
			zap.String("strategy_id", evt.StrategyID),
			zap.String("source", evt.Source),
			zap.Error(evt.Err),
		)
	})

	registry := plugin.NewRegistry()
	if err := plugins.RegisterBuiltins(registry, plugins.Deps{
		Client:   client,
		OpenAI:   a.cfg.OpenAI,
		Trailing: trailing,
		Logger:   a.logger,
	}); err != nil {
		return err
	}
	resolver := plugin.NewResolver(registry, bus, a.logger)

	dispatcher := order.NewDispatcher(a.cfg.Dispatch.QueueSize, bus, a.logger)
	if err := client.SubscribeOrders(ctx, dispatcher.HandlePush); err != nil {
		return fmt.Errorf("app: 订阅订单事件失败: %w", err)
	}
	go dispatcher.Run(ctx)

	conditions := condition.NewExecutor(resolver, bus, a.logger)
	orders := order.NewExecutor(client, resolver, dispatcher, bus, a.logger)
	provider := symbol.NewBrokerProvider(client, a.logger)

	eng := engine.New(conditions, orders, provider, resolver, bus, a.logger)
	if err := eng.Run(ctx, a.cfg.Strategies); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
