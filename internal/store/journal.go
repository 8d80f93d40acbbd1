package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Journal 负责落盘策略执行与订单事件流水。
type Journal struct {
	db *sql.DB
}

// NewJournal 创建流水存储并初始化表结构。
func NewJournal(db *sql.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("store: 数据库实例不能为空")
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS strategy_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			matched_symbols INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			message TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_runs_id ON strategy_runs(strategy_id);`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			order_no TEXT NOT NULL,
			symbol TEXT,
			transition TEXT NOT NULL,
			filled_qty REAL NOT NULL DEFAULT 0,
			remaining_qty REAL NOT NULL DEFAULT 0,
			message TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_no ON order_events(order_no);`,
		`CREATE TABLE IF NOT EXISTS error_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			strategy_id TEXT,
			source TEXT NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_error_events_strategy ON error_events(strategy_id);`,
	}

	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化流水表失败: %w", err)
		}
	}
	return nil
}

// RunRecord 表示一次策略执行的流水。
type RunRecord struct {
	StrategyID     string
	StartedAt      time.Time
	FinishedAt     time.Time
	MatchedSymbols int
	Status         string
	Message        string
}

// AppendRun 追加一条策略执行流水。
func (j *Journal) AppendRun(ctx context.Context, record RunRecord) error {
	finished := sql.NullString{}
	if !record.FinishedAt.IsZero() {
		finished = sql.NullString{String: record.FinishedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO strategy_runs (strategy_id, started_at, finished_at, matched_symbols, status, message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.StrategyID,
		record.StartedAt.UTC().Format(time.RFC3339),
		finished,
		record.MatchedSymbols,
		record.Status,
		record.Message,
	)
	if err != nil {
		return fmt.Errorf("store: 写入策略流水失败: %w", err)
	}
	return nil
}

// EventRecord 表示一条订单事件流水。
type EventRecord struct {
	OccurredAt   time.Time
	OrderNo      string
	Symbol       string
	Transition   string
	FilledQty    float64
	RemainingQty float64
	Message      string
}

// AppendEvent 追加一条订单事件流水。
func (j *Journal) AppendEvent(ctx context.Context, record EventRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO order_events (occurred_at, order_no, symbol, transition, filled_qty, remaining_qty, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.OccurredAt.UTC().Format(time.RFC3339),
		record.OrderNo,
		record.Symbol,
		record.Transition,
		record.FilledQty,
		record.RemainingQty,
		record.Message,
	)
	if err != nil {
		return fmt.Errorf("store: 写入订单事件失败: %w", err)
	}
	return nil
}

// ErrorRecord 表示一条运行错误流水。
type ErrorRecord struct {
	OccurredAt time.Time
	StrategyID string
	Source     string
	Message    string
}

// AppendError 追加一条运行错误流水。
func (j *Journal) AppendError(ctx context.Context, record ErrorRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO error_events (occurred_at, strategy_id, source, message)
		 VALUES (?, ?, ?, ?)`,
		record.OccurredAt.UTC().Format(time.RFC3339),
		record.StrategyID,
		record.Source,
		record.Message,
	)
	if err != nil {
		return fmt.Errorf("store: 写入错误流水失败: %w", err)
	}
	return nil
}

// RecentErrors 返回最近的错误流水，按时间降序。
func (j *Journal) RecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT occurred_at, COALESCE(strategy_id, ''), source, message
		 FROM error_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询错误流水失败: %w", err)
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		var (
			record   ErrorRecord
			occurred string
		)
		if err := rows.Scan(&occurred, &record.StrategyID, &record.Source, &record.Message); err != nil {
			return nil, fmt.Errorf("store: 读取错误流水失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, occurred); parseErr == nil {
			record.OccurredAt = ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历错误流水失败: %w", err)
	}
	return records, nil
}

// RecentEvents 返回指定订单号的事件流水，按时间升序。
func (j *Journal) RecentEvents(ctx context.Context, orderNo string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT occurred_at, order_no, symbol, transition, filled_qty, remaining_qty, COALESCE(message, '')
		 FROM order_events WHERE order_no = ? ORDER BY id ASC LIMIT ?`,
		orderNo, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单事件失败: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			record   EventRecord
			occurred string
		)
		if err := rows.Scan(&occurred, &record.OrderNo, &record.Symbol, &record.Transition,
			&record.FilledQty, &record.RemainingQty, &record.Message); err != nil {
			return nil, fmt.Errorf("store: 读取订单事件失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, occurred); parseErr == nil {
			record.OccurredAt = ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历订单事件失败: %w", err)
	}
	return records, nil
}
