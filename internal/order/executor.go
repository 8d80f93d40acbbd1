package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autotrader/internal/broker"
	"autotrader/internal/condition"
	"autotrader/internal/event"
	"autotrader/internal/plugin"
)

// StrategySpec 描述一个待执行的下单插件配置。
type StrategySpec struct {
	ID                string
	Params            map[string]interface{}
	BlockDuplicateBuy bool
}

// Executor 把条件合成通过的标的交给下单插件并提交订单。
type Executor struct {
	client     broker.Client
	resolver   *plugin.Resolver
	dispatcher *Dispatcher
	bus        *event.Bus
	logger     *zap.Logger
}

// NewExecutor 创建下单执行器。
func NewExecutor(client broker.Client, resolver *plugin.Resolver, dispatcher *Dispatcher, bus *event.Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:     client,
		resolver:   resolver,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
	}
}

// Execute 依次运行策略配置的下单插件。
//
// 账户快照在执行前一次性拉取并注入全部插件；单个插件或单笔
// 订单失败通过错误总线上报后继续执行其余部分。
func (e *Executor) Execute(ctx context.Context, strategyID string, specs []StrategySpec, matches []condition.Match) error {
	if len(specs) == 0 || len(matches) == 0 {
		return nil
	}

	snapshot, err := e.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("order: 获取账户快照失败: %w", err)
	}

	heldKeys := snapshot.HeldKeys()

	for _, spec := range specs {
		instance, err := e.resolver.Resolve(strategyID, spec.ID, spec.Params)
		if err != nil {
			e.reportError(strategyID, spec.ID, err)
			continue
		}

		orderPlugin, ok := instance.(plugin.Order)
		if !ok {
			e.reportError(strategyID, spec.ID, fmt.Errorf("order: 插件 %q 不具备下单能力", spec.ID))
			continue
		}

		e.resolver.Inject(orderPlugin, plugin.Injection{
			SystemID:  strategyID,
			Held:      snapshot.Held,
			NonTraded: snapshot.NonTraded,
			Balance:   &snapshot.Balance,
		})

		for _, match := range matches {
			if spec.BlockDuplicateBuy && broker.IsNew(orderPlugin.OrderTypes()) {
				if _, held := heldKeys[match.Symbol.Key()]; held {
					e.logger.Info("已持仓标的跳过重复买入",
						zap.String("strategy_id", strategyID),
						zap.String("symbol", match.Symbol.Symbol),
					)
					continue
				}
			}

			e.executeMatch(ctx, strategyID, orderPlugin, match)
		}
	}
	return nil
}

func (e *Executor) executeMatch(ctx context.Context, strategyID string, orderPlugin plugin.Order, match condition.Match) {
	e.resolver.Inject(orderPlugin, plugin.Injection{Symbol: &match.Symbol})

	instructions, err := orderPlugin.Decide(ctx, plugin.Signal{
		StrategyID: strategyID,
		Symbol:     match.Symbol,
		Side:       match.Side,
		Weight:     match.Weight,
	})
	if err != nil {
		e.reportError(strategyID, orderPlugin.ID(), fmt.Errorf("order: 插件决策失败 (%s): %w", match.Symbol.Symbol, err))
		return
	}

	for _, instruction := range instructions {
		if !instruction.Success {
			if instruction.Reason != "" {
				e.logger.Info("插件放弃下单",
					zap.String("strategy_id", strategyID),
					zap.String("symbol", instruction.Symbol),
					zap.String("reason", instruction.Reason),
				)
			}
			continue
		}

		result, err := e.client.SubmitOrder(ctx, instruction)
		if err != nil {
			e.reportError(strategyID, orderPlugin.ID(), err)
			continue
		}
		if result.Failed() {
			e.reportError(strategyID, orderPlugin.ID(), fmt.Errorf("order: 券商拒单 (%s): %s", instruction.Symbol, result.ErrorMessage))
			continue
		}

		e.dispatcher.Bind(result.OrderNo, orderPlugin)
		e.logger.Info("订单已提交",
			zap.String("strategy_id", strategyID),
			zap.String("order_no", result.OrderNo),
			zap.String("symbol", instruction.Symbol),
			zap.String("side", string(instruction.Side)),
			zap.Float64("quantity", instruction.Quantity),
		)

		if e.bus != nil {
			e.bus.PublishStrategy(event.StrategyMessage{
				StrategyID: strategyID,
				Kind:       event.KindOrdered,
				Detail:     fmt.Sprintf("%s %s %s", instruction.Symbol, instruction.Side, result.OrderNo),
				OccurredAt: time.Now().UTC(),
			})
		}
	}
}

// fetchSnapshot 并发拉取持仓、未成交与资金三类快照。
func (e *Executor) fetchSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	var snapshot broker.AccountSnapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		held, err := e.client.HeldSymbols(gctx)
		if err != nil {
			return err
		}
		snapshot.Held = held
		return nil
	})
	g.Go(func() error {
		pending, err := e.client.NonTradedOrders(gctx)
		if err != nil {
			return err
		}
		snapshot.NonTraded = pending
		return nil
	})
	g.Go(func() error {
		balance, err := e.client.AvailableBalance(gctx)
		if err != nil {
			return err
		}
		snapshot.Balance = balance
		return nil
	})

	if err := g.Wait(); err != nil {
		return broker.AccountSnapshot{}, err
	}
	return snapshot, nil
}

func (e *Executor) reportError(strategyID, source string, err error) {
	e.logger.Error("下单执行失败",
		zap.String("strategy_id", strategyID),
		zap.String("source", source),
		zap.Error(err),
	)
	if e.bus != nil {
		e.bus.PublishError(event.ErrorEvent{
			StrategyID: strategyID,
			Source:     source,
			Err:        err,
		})
	}
}
