package symbol

import (
	"math/rand/v2"
	"sort"
	"strings"

	"autotrader/internal/broker"
)

// Descriptor 描述一个参与评估的标的。
type Descriptor struct {
	Symbol    string
	Exchange  string
	Name      string
	MarketCap float64
	Product   broker.Product
}

// Key 返回标的的规范化去重键。
func (d Descriptor) Key() string {
	return broker.SymbolKey(d.Exchange, d.Symbol)
}

// Dedup 按出现顺序对标的去重。
func Dedup(symbols []Descriptor) []Descriptor {
	seen := make(map[string]struct{}, len(symbols))
	result := make([]Descriptor, 0, len(symbols))
	for _, s := range symbols {
		key := s.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, s)
	}
	return result
}

// Intersect 返回 symbols 中同时出现在 watch 里的标的，保持原有顺序。
// watch 为空时不过滤。
func Intersect(symbols []Descriptor, watch []string) []Descriptor {
	if len(watch) == 0 {
		return symbols
	}

	allow := make(map[string]struct{}, len(watch))
	for _, w := range watch {
		allow[strings.ToUpper(strings.TrimSpace(w))] = struct{}{}
	}

	result := make([]Descriptor, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := allow[strings.ToUpper(strings.TrimSpace(s.Symbol))]; ok {
			result = append(result, s)
		}
	}
	return result
}

// SortByMarketCap 按市值降序稳定排序。
func SortByMarketCap(symbols []Descriptor) {
	sort.SliceStable(symbols, func(i, j int) bool {
		return symbols[i].MarketCap > symbols[j].MarketCap
	})
}

// Shuffle 随机打乱标的顺序，配合截断实现随机抽样。
func Shuffle(symbols []Descriptor) {
	rand.Shuffle(len(symbols), func(i, j int) {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	})
}

// Truncate 截断到前 limit 个标的。limit 为 0 表示不限制。
func Truncate(symbols []Descriptor, limit int) []Descriptor {
	if limit <= 0 || len(symbols) <= limit {
		return symbols
	}
	return symbols[:limit]
}
