// Package plugins 提供内置的条件与下单插件。
package plugins

import (
	"fmt"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/plugin"
	"autotrader/internal/store"
)

// Deps 汇总内置插件共享的外部依赖。
type Deps struct {
	Client   broker.Client
	OpenAI   config.OpenAIConfig
	Trailing *store.TrailingStore
	Logger   *zap.Logger
}

// RegisterBuiltins 把全部内置插件注册到注册表。
func RegisterBuiltins(registry *plugin.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	factories := map[string]plugin.Factory{
		"sma_cross": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newSMACross(deps, params)
		},
		"rsi_band": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newRSIBand(deps, params)
		},
		"llm_signal": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newLLMSignal(deps, params)
		},
		"trailing_stop": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newTrailingStop(deps, params)
		},
		"market_entry": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newMarketEntry(deps, params)
		},
		"market_exit": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newMarketExit(deps, params)
		},
		"cancel_stale": func(params map[string]interface{}) (plugin.Plugin, error) {
			return newCancelStale(deps, params)
		},
	}

	for id, factory := range factories {
		if err := registry.Register(id, factory); err != nil {
			return err
		}
	}
	return nil
}

// decodeParams 用弱类型模式解码插件参数，配置里的数字字符串
// 也能落到数值字段上。
func decodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("plugins: 构造参数解码器失败: %w", err)
	}
	if params == nil {
		return nil
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("plugins: 参数解码失败: %w", err)
	}
	return nil
}
