package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
}

// AppConfig 控制应用级参数。Debug 为真时日志级别强制为 debug。
type AppConfig struct {
	Environment  string `mapstructure:"environment"`
	PaperTrading bool   `mapstructure:"paper_trading"`
	Debug        bool   `mapstructure:"debug"`
}

// BrokerConfig 描述券商连接信息。
type BrokerConfig struct {
	Exchange     string        `mapstructure:"exchange"`
	Markets      []string      `mapstructure:"markets"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	APIPass      string        `mapstructure:"api_password"`
	Retry        RetryConfig   `mapstructure:"retry"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型条件插件的调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理事件流水与策略状态的存储。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// DispatchConfig 控制订单事件分发器。
type DispatchConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// StrategyConfig 描述一条策略的完整定义。
//
// Conditions 保留为原始节点树，由条件模块在装配阶段解析，
// 配置层不感知节点语义。
type StrategyConfig struct {
	ID               string                   `mapstructure:"id"`
	Description      string                   `mapstructure:"description"`
	Product          string                   `mapstructure:"product"`
	Cron             string                   `mapstructure:"cron"`
	Timezone         string                   `mapstructure:"timezone"`
	Count            int                      `mapstructure:"count"`
	RunOnceOnStart   bool                     `mapstructure:"run_once_on_start"`
	Logic            string                   `mapstructure:"logic"`
	Threshold        int                      `mapstructure:"threshold"`
	Conditions       []map[string]interface{} `mapstructure:"conditions"`
	Symbols          []SymbolConfig           `mapstructure:"symbols"`
	WatchList        []string                 `mapstructure:"watch_list"`
	MaxSymbols       MaxSymbolsConfig         `mapstructure:"max_symbols"`
	Orders           []OrderStrategyConfig    `mapstructure:"orders"`
	EvalConcurrency  int64                    `mapstructure:"eval_concurrency"`
	IgnoreMaintained bool                     `mapstructure:"ignore_maintained"`
}

// TimeWindowConfig 描述下单策略的交易时段限制。
// Start/End 为 "HH:MM" 或 "HH:MM:SS"，End 小于 Start 表示跨日时段；
// 跨日时段的次日凌晨部分归属到前一日的交易日。Days 为空表示每天生效。
type TimeWindowConfig struct {
	Start           string   `mapstructure:"start"`
	End             string   `mapstructure:"end"`
	Days            []string `mapstructure:"days"`
	Timezone        string   `mapstructure:"timezone"`
	OnOutside       string   `mapstructure:"on_outside"`
	MaxDelaySeconds int      `mapstructure:"max_delay_seconds"`
}

// Enabled 返回时段限制是否生效。
func (w TimeWindowConfig) Enabled() bool {
	return w.Start != "" && w.End != ""
}

// SymbolConfig 描述策略显式指定的标的。
type SymbolConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	Exchange  string  `mapstructure:"exchange"`
	Name      string  `mapstructure:"name"`
	MarketCap float64 `mapstructure:"market_cap"`
}

// MaxSymbolsConfig 限制单次评估的标的数量。Limit 为 0 表示不限制。
type MaxSymbolsConfig struct {
	Limit  int    `mapstructure:"limit"`
	SortBy string `mapstructure:"sort_by"`
}

// OrderStrategyConfig 描述条件满足后触发的下单插件。
// Window 仅约束该下单插件的出手时机，不影响条件评估本身。
type OrderStrategyConfig struct {
	ID                string                 `mapstructure:"id"`
	Params            map[string]interface{} `mapstructure:"params"`
	BlockDuplicateBuy bool                   `mapstructure:"block_duplicate_buy"`
	Window            TimeWindowConfig       `mapstructure:"time_window"`
}

var validLogics = map[string]bool{
	"and": true, "or": true, "not": true, "xor": true,
	"at_least": true, "at_most": true, "exactly": true, "weighted": true,
}

var thresholdLogics = map[string]bool{
	"at_least": true, "at_most": true, "exactly": true, "weighted": true,
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Broker.Exchange == "" {
		err = multierr.Append(err, errors.New("broker.exchange 不能为空"))
	}
	if len(c.Broker.Markets) == 0 {
		err = multierr.Append(err, errors.New("broker.markets 至少包含一个市场"))
	}
	if c.Broker.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("broker.retry.max_attempts 必须大于0"))
	}
	if c.Broker.Retry.MinDelay <= 0 || c.Broker.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("broker.retry.delay 必须为正"))
	}
	if c.Broker.Retry.MinDelay > c.Broker.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("broker.retry.min_delay 不能大于 max_delay"))
	}
	if c.Broker.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("broker.poll_interval 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if c.Dispatch.QueueSize <= 0 {
		err = multierr.Append(err, errors.New("dispatch.queue_size 必须大于0"))
	}
	if len(c.Strategies) == 0 {
		err = multierr.Append(err, errors.New("strategies 至少包含一条策略"))
	}

	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		err = multierr.Append(err, s.validate(i, seen))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (s StrategyConfig) validate(index int, seen map[string]bool) error {
	var err error
	label := s.ID
	if label == "" {
		label = fmt.Sprintf("strategies[%d]", index)
		err = multierr.Append(err, fmt.Errorf("%s: id 不能为空", label))
	} else if seen[s.ID] {
		err = multierr.Append(err, fmt.Errorf("%s: id 重复", label))
	}
	seen[s.ID] = true

	switch strings.ToLower(s.Product) {
	case "stock", "futures":
	default:
		err = multierr.Append(err, fmt.Errorf("%s: product 必须为 stock 或 futures", label))
	}
	if s.Count < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: count 不能为负", label))
	}
	if len(s.Conditions) > 0 {
		if !validLogics[strings.ToLower(s.Logic)] {
			err = multierr.Append(err, fmt.Errorf("%s: logic %q 不受支持", label, s.Logic))
		}
		if thresholdLogics[strings.ToLower(s.Logic)] && s.Threshold <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s: logic %q 需要正的 threshold", label, s.Logic))
		}
	}
	if s.MaxSymbols.Limit < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: max_symbols.limit 不能为负", label))
	}
	switch strings.ToLower(s.MaxSymbols.SortBy) {
	case "", "random", "market_cap":
	default:
		err = multierr.Append(err, fmt.Errorf("%s: max_symbols.sort_by 必须为 random 或 market_cap", label))
	}
	if s.EvalConcurrency < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: eval_concurrency 不能为负", label))
	}
	for j, o := range s.Orders {
		if o.ID == "" {
			err = multierr.Append(err, fmt.Errorf("%s: orders[%d].id 不能为空", label, j))
		}
		if o.Window.Enabled() {
			err = multierr.Append(err, o.Window.validate(fmt.Sprintf("%s: orders[%d].time_window", label, j)))
		}
	}
	return err
}

var validWeekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

func (w TimeWindowConfig) validate(label string) error {
	var err error
	switch w.OnOutside {
	case "", "defer", "skip":
	default:
		err = multierr.Append(err, fmt.Errorf("%s.on_outside 必须为 defer 或 skip", label))
	}
	if w.MaxDelaySeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_delay_seconds 不能为负", label))
	}
	for _, d := range w.Days {
		if !validWeekdays[strings.ToLower(d)] {
			err = multierr.Append(err, fmt.Errorf("%s.days 中的 %q 不是有效的星期缩写", label, d))
		}
	}
	return err
}
