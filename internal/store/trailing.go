package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TrailingStore 维护移动止损的最高价水位。
type TrailingStore struct {
	db *sql.DB
}

// NewTrailingStore 创建水位存储并初始化表结构。
func NewTrailingStore(db *sql.DB) (*TrailingStore, error) {
	if db == nil {
		return nil, errors.New("store: 数据库实例不能为空")
	}

	t := &TrailingStore{db: db}
	if err := t.initSchema(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TrailingStore) initSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS trailing_high_marks (
		symbol_key TEXT PRIMARY KEY,
		high_price REAL NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := t.db.Exec(schema); err != nil {
		return fmt.Errorf("store: 初始化水位表失败: %w", err)
	}
	return nil
}

// HighMark 返回标的的历史最高价水位，不存在时返回 false。
func (t *TrailingStore) HighMark(ctx context.Context, symbolKey string) (float64, bool, error) {
	var high float64
	row := t.db.QueryRowContext(ctx,
		`SELECT high_price FROM trailing_high_marks WHERE symbol_key = ?`, symbolKey)
	switch err := row.Scan(&high); {
	case err == nil:
		return high, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("store: 查询水位失败: %w", err)
	}
}

// RaiseHighMark 在新价更高时抬升水位，返回抬升后的水位。
func (t *TrailingStore) RaiseHighMark(ctx context.Context, symbolKey string, price float64) (float64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO trailing_high_marks (symbol_key, high_price, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(symbol_key) DO UPDATE SET
			high_price = MAX(high_price, excluded.high_price),
			updated_at = excluded.updated_at`,
		symbolKey, price, now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: 抬升水位失败: %w", err)
	}

	high, _, err := t.HighMark(ctx, symbolKey)
	if err != nil {
		return 0, err
	}
	return high, nil
}

// ClearHighMark 清除标的水位，通常在平仓后调用。
func (t *TrailingStore) ClearHighMark(ctx context.Context, symbolKey string) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM trailing_high_marks WHERE symbol_key = ?`, symbolKey); err != nil {
		return fmt.Errorf("store: 清除水位失败: %w", err)
	}
	return nil
}
