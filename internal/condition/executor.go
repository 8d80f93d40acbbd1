package condition

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"autotrader/internal/broker"
	"autotrader/internal/event"
	"autotrader/internal/plugin"
	"autotrader/internal/symbol"
)

const defaultConcurrency = 4

// Spec 描述一次条件评估的输入。
type Spec struct {
	StrategyID  string
	Product     broker.Product
	Logic       string
	Threshold   int
	Nodes       []Node
	Concurrency int64
}

// Match 表示通过条件合成的标的。
type Match struct {
	Symbol symbol.Descriptor
	Side   broker.PositionSide
	Weight int
}

// Executor 对一批标的并发执行条件树评估。
type Executor struct {
	resolver *plugin.Resolver
	bus      *event.Bus
	logger   *zap.Logger
}

// NewExecutor 创建条件执行器。bus 可为 nil，评估失败仅记录日志。
func NewExecutor(resolver *plugin.Resolver, bus *event.Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{resolver: resolver, bus: bus, logger: logger}
}

// reportError 把评估期间的失败广播到错误通道。
func (e *Executor) reportError(strategyID, source string, err error) {
	if e.bus == nil {
		return
	}
	e.bus.PublishError(event.ErrorEvent{
		StrategyID: strategyID,
		Source:     source,
		Err:        err,
	})
}

// Evaluate 对每个标的执行条件树，返回合成通过的标的列表。
//
// 插件在并发阶段之前统一解析和注入，评估期间注入状态只读，
// 当前标的通过 Evaluate 参数传递。并发度由 Spec.Concurrency
// 限定，结果保持标的的输入顺序。单个插件评估失败按条件失败计，
// 不会中断整批评估。
func (e *Executor) Evaluate(ctx context.Context, spec Spec, symbols []symbol.Descriptor, base plugin.Injection) ([]Match, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	// 无条件节点的策略直接放行全部标的。
	if len(spec.Nodes) == 0 {
		matches := make([]Match, 0, len(symbols))
		for _, sym := range symbols {
			matches = append(matches, Match{Symbol: sym, Side: broker.PositionFlat})
		}
		return matches, nil
	}

	conditions := e.prepare(spec, base, spec.Nodes, make(map[string]plugin.Condition))

	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	sem := semaphore.NewWeighted(concurrency)
	outcomes := make([]*Match, len(symbols))

	var wg sync.WaitGroup
	for i, sym := range symbols {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(idx int, sym symbol.Descriptor) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, err := e.evaluateSymbol(ctx, spec, sym, conditions)
			if err != nil {
				e.logger.Warn("标的条件合成失败",
					zap.String("strategy_id", spec.StrategyID),
					zap.String("symbol", sym.Symbol),
					zap.Error(err),
				)
				e.reportError(spec.StrategyID, "condition", err)
				return
			}
			if outcome.Success {
				outcomes[idx] = &Match{
					Symbol: sym,
					Side:   outcome.Side,
					Weight: outcome.Weight,
				}
			}
		}(i, sym)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(symbols))
	for _, outcome := range outcomes {
		if outcome != nil {
			matches = append(matches, *outcome)
		}
	}
	return matches, nil
}

// prepare 串行解析条件树引用的全部插件并完成注入。
// 解析失败的节点缺席映射，评估时按条件失败计。
func (e *Executor) prepare(spec Spec, base plugin.Injection, nodes []Node, out map[string]plugin.Condition) map[string]plugin.Condition {
	for _, node := range nodes {
		if node.IsGroup() {
			e.prepare(spec, base, node.Children, out)
			continue
		}
		if node.Instance != nil {
			injection := base
			injection.SystemID = spec.StrategyID
			e.resolver.Inject(node.Instance, injection)
			continue
		}
		if _, done := out[node.PluginID]; done {
			continue
		}

		instance, err := e.resolver.Resolve(spec.StrategyID, node.PluginID, node.Params)
		if err != nil {
			continue
		}
		cond, ok := instance.(plugin.Condition)
		if !ok {
			e.logger.Warn("插件不具备条件能力",
				zap.String("strategy_id", spec.StrategyID),
				zap.String("plugin_id", node.PluginID),
			)
			e.reportError(spec.StrategyID, "condition:"+node.PluginID,
				fmt.Errorf("condition: 插件 %q 不具备条件能力", node.PluginID))
			continue
		}

		injection := base
		injection.SystemID = spec.StrategyID
		e.resolver.Inject(cond, injection)
		out[node.PluginID] = cond
	}
	return out
}

func (e *Executor) evaluateSymbol(ctx context.Context, spec Spec, sym symbol.Descriptor, conditions map[string]plugin.Condition) (Outcome, error) {
	results, err := e.evaluateNodes(ctx, spec, sym, conditions, spec.Nodes)
	if err != nil {
		return Outcome{}, err
	}
	return Combine(spec.Logic, spec.Threshold, spec.Product, results)
}

func (e *Executor) evaluateNodes(ctx context.Context, spec Spec, sym symbol.Descriptor, conditions map[string]plugin.Condition, nodes []Node) ([]plugin.Result, error) {
	results := make([]plugin.Result, 0, len(nodes))
	for _, node := range nodes {
		if node.IsGroup() {
			children, err := e.evaluateNodes(ctx, spec, sym, conditions, node.Children)
			if err != nil {
				return nil, err
			}
			outcome, err := Combine(node.Logic, node.Threshold, spec.Product, children)
			if err != nil {
				return nil, err
			}
			results = append(results, plugin.Result{
				Success: outcome.Success,
				Side:    outcome.Side,
				Weight:  outcome.Weight,
			})
			continue
		}

		results = append(results, e.evaluateLeaf(ctx, spec, sym, conditions, node))
	}
	return results, nil
}

func (e *Executor) evaluateLeaf(ctx context.Context, spec Spec, sym symbol.Descriptor, conditions map[string]plugin.Condition, node Node) plugin.Result {
	cond := node.Instance
	if cond == nil {
		var ok bool
		cond, ok = conditions[node.PluginID]
		if !ok {
			return plugin.Result{}
		}
	}

	result, err := cond.Evaluate(ctx, sym)
	if err != nil {
		e.logger.Warn("条件插件执行失败",
			zap.String("strategy_id", spec.StrategyID),
			zap.String("plugin_id", cond.ID()),
			zap.String("symbol", sym.Symbol),
			zap.Error(err),
		)
		e.reportError(spec.StrategyID, "condition:"+cond.ID(), err)
		return plugin.Result{}
	}

	if node.Weight > 0 {
		result.Weight = node.Weight
	}
	return result
}
