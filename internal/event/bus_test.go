package event

import (
	"errors"
	"testing"

	"autotrader/internal/broker"
)

func TestBus_DispatchesToAllRegisteredHandlers(t *testing.T) {
	bus := NewBus(nil)

	var strategyCalls, orderCalls, errorCalls int
	bus.OnStrategyMessage(func(StrategyMessage) { strategyCalls++ })
	bus.OnStrategyMessage(func(StrategyMessage) { strategyCalls++ })
	bus.OnOrderEvent(func(broker.OrderEvent) { orderCalls++ })
	bus.OnError(func(ErrorEvent) { errorCalls++ })

	bus.PublishStrategy(StrategyMessage{StrategyID: "s1", Kind: KindStarted})
	bus.PublishOrder(broker.OrderEvent{OrderNo: "1"})
	bus.PublishError(ErrorEvent{StrategyID: "s1", Err: errors.New("boom")})

	if strategyCalls != 2 {
		t.Errorf("expected both strategy handlers invoked, got %d", strategyCalls)
	}
	if orderCalls != 1 {
		t.Errorf("expected order handler invoked once, got %d", orderCalls)
	}
	if errorCalls != 1 {
		t.Errorf("expected error handler invoked once, got %d", errorCalls)
	}
}

func TestBus_StampsMissingTimestamps(t *testing.T) {
	bus := NewBus(nil)

	var received StrategyMessage
	bus.OnStrategyMessage(func(msg StrategyMessage) { received = msg })

	bus.PublishStrategy(StrategyMessage{StrategyID: "s1", Kind: KindEvaluated})
	if received.OccurredAt.IsZero() {
		t.Errorf("expected occurred_at stamped on publish")
	}
}

func TestBus_NilHandlersIgnored(t *testing.T) {
	bus := NewBus(nil)
	bus.OnStrategyMessage(nil)
	bus.OnOrderEvent(nil)
	bus.OnError(nil)

	bus.PublishStrategy(StrategyMessage{Kind: KindShutdown})
	bus.PublishOrder(broker.OrderEvent{})
	bus.PublishError(ErrorEvent{Err: errors.New("boom")})
}
