package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"autotrader/internal/config"
)

// Window 表示下单策略的交易时段。End 早于 Start 时为跨日时段，
// 例如 22:00-05:30 覆盖前一日晚间到次日清晨；次日凌晨的部分
// 归属到前一日的交易日，星期过滤按该交易日计算。
type Window struct {
	startSec int
	endSec   int
	days     map[time.Weekday]bool
	loc      *time.Location
	onSkip   bool
	maxDelay time.Duration
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWindow 解析时段配置。未启用时返回 nil。
func ParseWindow(cfg config.TimeWindowConfig) (*Window, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	start, err := parseClock(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("engine: 时段起点无效: %w", err)
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("engine: 时段终点无效: %w", err)
	}
	if start == end {
		return nil, fmt.Errorf("engine: 时段起止时刻不能相同")
	}

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("engine: 时段时区 %q 无效: %w", cfg.Timezone, err)
		}
	}

	var days map[time.Weekday]bool
	if len(cfg.Days) > 0 {
		days = make(map[time.Weekday]bool, len(cfg.Days))
		for _, name := range cfg.Days {
			wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return nil, fmt.Errorf("engine: 时段星期 %q 无效", name)
			}
			days[wd] = true
		}
	}

	return &Window{
		startSec: start,
		endSec:   end,
		days:     days,
		loc:      loc,
		onSkip:   cfg.OnOutside == "skip",
		maxDelay: time.Duration(cfg.MaxDelaySeconds) * time.Second,
	}, nil
}

// parseClock 解析 "HH:MM" 或 "HH:MM:SS" 为当日秒数。
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("时刻 %q 格式应为 HH:MM 或 HH:MM:SS", value)
	}

	numbers := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("时刻 %q 含非数字段: %w", value, err)
		}
		numbers[i] = n
	}

	hour, minute, second := numbers[0], numbers[1], numbers[2]
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("时刻 %q 超出范围", value)
	}
	return hour*3600 + minute*60 + second, nil
}

// Skip 返回窗外触发是否直接跳过本次执行。
func (w *Window) Skip() bool {
	return w.onSkip
}

// MaxDelay 返回顺延的最长等待时间，0 表示不限制。
func (w *Window) MaxDelay() time.Duration {
	return w.maxDelay
}

// dayAllowed 判断交易日的星期是否在允许集合内。
func (w *Window) dayAllowed(wd time.Weekday) bool {
	return w.days == nil || w.days[wd]
}

// Contains 判断时刻是否落在时段内。区间左闭右开，
// 到达终点的瞬间视为已出窗。
func (w *Window) Contains(t time.Time) bool {
	t = t.In(w.loc)
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()

	if w.startSec < w.endSec {
		return sec >= w.startSec && sec < w.endSec && w.dayAllowed(t.Weekday())
	}
	if sec >= w.startSec {
		return w.dayAllowed(t.Weekday())
	}
	if sec < w.endSec {
		// 凌晨段归属前一日开始的窗口。
		return w.dayAllowed(t.AddDate(0, 0, -1).Weekday())
	}
	return false
}

// NextStart 返回 t 之后最近的窗口开始时刻。窗口按日重复，
// 最多向后扫描 7 天。
func (w *Window) NextStart(t time.Time) (time.Time, bool) {
	t = t.In(w.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, w.loc)
	for day := 0; day <= 7; day++ {
		candidate := midnight.AddDate(0, 0, day).Add(time.Duration(w.startSec) * time.Second)
		if candidate.After(t) && w.dayAllowed(candidate.Weekday()) {
			return candidate, true
		}
	}
	return time.Time{}, false
}
