package event

import (
	"time"
)

// Kind 标识策略消息的类别。
type Kind string

const (
	KindStarted   Kind = "started"
	KindEvaluated Kind = "evaluated"
	KindOrdered   Kind = "ordered"
	KindDeferred  Kind = "deferred"
	KindSkipped   Kind = "skipped"
	KindExhausted Kind = "exhausted"
	KindShutdown  Kind = "shutdown"
)

// StrategyMessage 描述策略生命周期中对外广播的消息。
type StrategyMessage struct {
	StrategyID string
	Kind       Kind
	Detail     string
	Matched    int
	OccurredAt time.Time
}

// ErrorEvent 描述执行过程中上报的错误。
type ErrorEvent struct {
	StrategyID string
	Source     string
	Err        error
	OccurredAt time.Time
}
