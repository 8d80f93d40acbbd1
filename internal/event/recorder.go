package event

import (
	"context"

	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/store"
)

// Recorder 把总线上的订单事件、策略消息与运行错误落盘成流水。
type Recorder struct {
	journal *store.Journal
	logger  *zap.Logger
}

// NewRecorder 创建流水记录器并挂载到总线。
func NewRecorder(bus *Bus, journal *store.Journal, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{journal: journal, logger: logger}
	bus.OnOrderEvent(r.recordOrder)
	bus.OnStrategyMessage(r.recordStrategy)
	bus.OnError(r.recordError)
	return r
}

func (r *Recorder) recordOrder(evt broker.OrderEvent) {
	record := store.EventRecord{
		OccurredAt:   evt.ReceivedAt,
		OrderNo:      evt.OrderNo,
		Symbol:       evt.Symbol,
		Transition:   string(evt.Transition),
		FilledQty:    evt.FilledQty,
		RemainingQty: evt.RemainingQty,
		Message:      evt.Message,
	}
	if err := r.journal.AppendEvent(context.Background(), record); err != nil {
		r.logger.Warn("订单事件落盘失败",
			zap.String("order_no", evt.OrderNo),
			zap.Error(err),
		)
	}
}

func (r *Recorder) recordError(evt ErrorEvent) {
	message := ""
	if evt.Err != nil {
		message = evt.Err.Error()
	}
	record := store.ErrorRecord{
		OccurredAt: evt.OccurredAt,
		StrategyID: evt.StrategyID,
		Source:     evt.Source,
		Message:    message,
	}
	if err := r.journal.AppendError(context.Background(), record); err != nil {
		r.logger.Warn("错误流水落盘失败",
			zap.String("strategy_id", evt.StrategyID),
			zap.Error(err),
		)
	}
}

func (r *Recorder) recordStrategy(msg StrategyMessage) {
	if msg.Kind != KindEvaluated && msg.Kind != KindExhausted {
		return
	}

	record := store.RunRecord{
		StrategyID:     msg.StrategyID,
		StartedAt:      msg.OccurredAt,
		FinishedAt:     msg.OccurredAt,
		MatchedSymbols: msg.Matched,
		Status:         string(msg.Kind),
		Message:        msg.Detail,
	}
	if err := r.journal.AppendRun(context.Background(), record); err != nil {
		r.logger.Warn("策略流水落盘失败",
			zap.String("strategy_id", msg.StrategyID),
			zap.Error(err),
		)
	}
}
