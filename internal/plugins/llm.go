package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
	"autotrader/internal/symbol"
)

type llmSignalParams struct {
	Timeframe     string  `mapstructure:"timeframe"`
	Limit         int64   `mapstructure:"limit"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type llmVerdict struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// llmSignal 把近期K线交给大模型，要求返回 JSON 形式的方向判断。
type llmSignal struct {
	client broker.Client
	sdk    *openai.Client
	model  string
	logger *zap.Logger
	params llmSignalParams
}

func newLLMSignal(deps Deps, params map[string]interface{}) (plugin.Plugin, error) {
	if deps.OpenAI.APIKey == "" {
		return nil, errors.New("plugins: llm_signal 需要配置 openai.api_key")
	}

	p := llmSignalParams{Timeframe: "1h", Limit: 48, MinConfidence: 0.6}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return nil, fmt.Errorf("plugins: llm_signal 的 min_confidence 必须位于[0,1]")
	}

	cfg := openai.DefaultConfig(deps.OpenAI.APIKey)
	if deps.OpenAI.BaseURL != "" {
		cfg.BaseURL = deps.OpenAI.BaseURL
	}
	timeout := deps.OpenAI.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	return &llmSignal{
		client: deps.Client,
		sdk:    openai.NewClientWithConfig(cfg),
		model:  deps.OpenAI.Model,
		logger: deps.Logger,
		params: p,
	}, nil
}

func (l *llmSignal) ID() string { return "llm_signal" }

func (l *llmSignal) Evaluate(ctx context.Context, sym symbol.Descriptor) (plugin.Result, error) {
	candles, err := l.client.Candles(ctx, sym.Symbol, l.params.Timeframe, l.params.Limit)
	if err != nil {
		return plugin.Result{}, err
	}
	if len(candles) == 0 {
		return plugin.Result{Detail: "无K线数据"}, nil
	}

	response, err := l.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: l.buildPrompt(sym, candles),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return plugin.Result{}, fmt.Errorf("plugins: 调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return plugin.Result{}, errors.New("plugins: OpenAI 返回结果为空")
	}

	verdict, err := parseVerdict(response.Choices[0].Message.Content)
	if err != nil {
		l.logger.Error("解析模型信号失败",
			zap.Error(err),
			zap.String("raw_content", response.Choices[0].Message.Content),
		)
		return plugin.Result{}, err
	}

	side := broker.PositionFlat
	switch strings.ToLower(strings.TrimSpace(verdict.Signal)) {
	case "long":
		side = broker.PositionLong
	case "short":
		side = broker.PositionShort
	}

	success := side.Directional() && verdict.Confidence >= l.params.MinConfidence
	return plugin.Result{
		Success: success,
		Side:    side,
		Detail:  fmt.Sprintf("signal=%s confidence=%.2f", verdict.Signal, verdict.Confidence),
	}, nil
}

func (l *llmSignal) buildPrompt(sym symbol.Descriptor, candles []broker.Candle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是量化分析助手。以下是 %s 的 %s K线(时间,开,高,低,收,量):\n",
		sym.Symbol, l.params.Timeframe)
	for _, c := range candles {
		fmt.Fprintf(&sb, "%s,%.6f,%.6f,%.6f,%.6f,%.2f\n",
			c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	sb.WriteString("\n只输出一个JSON对象: {\"signal\":\"long|short|none\",\"confidence\":0到1,\"reasoning\":\"一句话\"}")
	return sb.String()
}

func parseVerdict(content string) (llmVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return llmVerdict{}, fmt.Errorf("plugins: 模型输出未找到有效JSON: %s", content)
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return llmVerdict{}, fmt.Errorf("plugins: 解析信号JSON失败: %w", err)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return llmVerdict{}, fmt.Errorf("plugins: confidence %.2f 超出范围", verdict.Confidence)
	}
	return verdict, nil
}
