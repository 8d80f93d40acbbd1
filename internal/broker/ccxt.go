package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// RetryConfig 统一控制券商调用的重试节奏。
type RetryConfig struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Config 描述 ccxt 适配器的连接参数。
type Config struct {
	Exchange     string
	Markets      []string
	APIKey       string
	APISecret    string
	APIPass      string
	Retry        RetryConfig
	PollInterval time.Duration
}

// CCXTClient 基于 ccxt 实现 Client 契约。
//
// 券商没有原生推送通道时，订单事件通过轮询挂单并对比状态迁移产生，
// 回调在独立 goroutine 中触发，与调度器的任务模型隔离。
type CCXTClient struct {
	cfg      Config
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	mu       sync.Mutex
	loggedIn bool

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewCCXTClient 构造 ccxt 适配器。
func NewCCXTClient(cfg Config, paperTrading bool, logger *zap.Logger) (*CCXTClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Markets) == 0 {
		return nil, errors.New("券商适配器至少需要配置一个 market")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if paperTrading {
		ex.SetSandboxMode(true)
	}

	return &CCXTClient{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// IsLoggedIn 返回会话是否已登录。
func (c *CCXTClient) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Login 校验凭证并加载市场元数据作为连通性检查。
func (c *CCXTClient) Login(ctx context.Context, paperTrading bool) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("登录失败: 缺少 appkey 或 appsecret")
	}
	if paperTrading {
		c.exchange.SetSandboxMode(true)
	}

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	c.logger.Info("券商会话登录成功",
		zap.String("exchange", c.cfg.Exchange),
		zap.Bool("paper_trading", paperTrading),
	)
	return nil
}

// MarketUniverse 返回配置的可交易标的全集。
func (c *CCXTClient) MarketUniverse(ctx context.Context, product Product) ([]MarketEntry, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	entries := make([]MarketEntry, 0, len(c.cfg.Markets))
	for _, market := range c.cfg.Markets {
		symbol := strings.TrimSpace(market)
		if symbol == "" {
			continue
		}
		entries = append(entries, MarketEntry{
			Symbol:   symbol,
			Exchange: c.cfg.Exchange,
		})
	}
	return entries, nil
}

// HeldSymbols 返回当前持仓快照。
func (c *CCXTClient) HeldSymbols(ctx context.Context) ([]HeldSymbol, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}

	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		positions, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = positions
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("获取持仓失败: %w", err)
	}

	held := make([]HeldSymbol, 0, len(raw))
	for _, pos := range raw {
		symbol := derefString(pos.Symbol)
		size := derefFloat(pos.Contracts)
		if symbol == "" || size == 0 {
			continue
		}

		side := SideBuy
		if strings.EqualFold(derefString(pos.Side), "short") {
			side = SideSell
		}
		held = append(held, HeldSymbol{
			Symbol:       symbol,
			Exchange:     c.cfg.Exchange,
			Quantity:     size,
			SellableQty:  size,
			EntryPrice:   derefFloat(pos.EntryPrice),
			CurrentPrice: derefFloat(pos.MarkPrice),
			Side:         side,
		})
	}
	return held, nil
}

// NonTradedOrders 返回全部市场的未成交订单快照。
func (c *CCXTClient) NonTradedOrders(ctx context.Context) ([]NonTradedOrder, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}

	var result []NonTradedOrder
	for _, market := range c.cfg.Markets {
		var raw []ccxt.Order
		err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
			orders, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(market))
			if err != nil {
				return err
			}
			raw = orders
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("获取未成交订单失败 (%s): %w", market, err)
		}

		for _, order := range raw {
			result = append(result, convertOpenOrder(c.cfg.Exchange, order))
		}
	}
	return result, nil
}

// AvailableBalance 返回账户可用资金。
func (c *CCXTClient) AvailableBalance(ctx context.Context) (Balance, error) {
	if !c.IsLoggedIn() {
		return Balance{}, ErrNotLoggedIn
	}

	var raw ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = balances
		return nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("获取账户资金失败: %w", err)
	}

	balance := Balance{Currency: "USD"}
	for _, code := range []string{"USD", "USDT", "USDC"} {
		if raw.Total != nil {
			if total, ok := raw.Total[code]; ok && total != nil && balance.Deposit == 0 {
				balance.Deposit = *total
				balance.Currency = code
			}
		}
		if raw.Free != nil {
			if free, ok := raw.Free[code]; ok && free != nil && balance.OrderableAmount == 0 {
				balance.OrderableAmount = *free
			}
		}
	}
	return balance, nil
}

// Candles 获取指定标的K线。
func (c *CCXTClient) Candles(ctx context.Context, symbol string, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("获取K线失败 (%s): %w", symbol, err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

// SubmitOrder 提交下单指令。改单以先撤后挂的方式实现。
func (c *CCXTClient) SubmitOrder(ctx context.Context, instruction OrderInstruction) (OrderResult, error) {
	if !c.IsLoggedIn() {
		return OrderResult{}, ErrNotLoggedIn
	}

	switch instruction.Kind {
	case KindNew:
		return c.createOrder(ctx, instruction)
	case KindModify:
		if instruction.OrigOrderNo == "" {
			return OrderResult{}, errors.New("改单指令缺少原始订单号")
		}
		if _, err := c.cancelOrder(ctx, instruction); err != nil {
			return OrderResult{}, err
		}
		return c.createOrder(ctx, instruction)
	case KindCancel:
		if instruction.OrigOrderNo == "" {
			return OrderResult{}, errors.New("撤单指令缺少原始订单号")
		}
		return c.cancelOrder(ctx, instruction)
	default:
		return OrderResult{}, fmt.Errorf("不支持的指令类别 %q", instruction.Kind)
	}
}

func (c *CCXTClient) createOrder(ctx context.Context, instruction OrderInstruction) (OrderResult, error) {
	var order ccxt.Order
	err := c.callWithRetry(ctx, "create_order", func() error {
		var callErr error
		if instruction.PriceType == "market" || instruction.Price <= 0 {
			order, callErr = c.exchange.CreateMarketOrder(instruction.Symbol, string(instruction.Side), instruction.Quantity)
		} else {
			order, callErr = c.exchange.CreateLimitOrder(instruction.Symbol, string(instruction.Side), instruction.Quantity, instruction.Price)
		}
		return callErr
	})
	if err != nil {
		return OrderResult{ErrorMessage: err.Error()}, fmt.Errorf("下单失败 (%s): %w", instruction.Symbol, err)
	}

	return OrderResult{
		OrderNo: derefString(order.Id),
		Message: derefString(order.Status),
	}, nil
}

func (c *CCXTClient) cancelOrder(ctx context.Context, instruction OrderInstruction) (OrderResult, error) {
	var order ccxt.Order
	err := c.callWithRetry(ctx, "cancel_order", func() error {
		result, callErr := c.exchange.CancelOrder(instruction.OrigOrderNo, ccxt.WithCancelOrderSymbol(instruction.Symbol))
		if callErr != nil {
			return callErr
		}
		order = result
		return nil
	})
	if err != nil {
		return OrderResult{ErrorMessage: err.Error()}, fmt.Errorf("撤单失败 (%s): %w", instruction.OrigOrderNo, err)
	}

	orderNo := derefString(order.Id)
	if orderNo == "" {
		orderNo = instruction.OrigOrderNo
	}
	return OrderResult{OrderNo: orderNo, Message: derefString(order.Status)}, nil
}

func (c *CCXTClient) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()
	if c.marketsLoaded {
		return nil
	}

	err := c.callWithRetry(ctx, "load_markets", func() error {
		_, callErr := c.exchange.LoadMarkets()
		return callErr
	})
	if err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Strings("markets", c.cfg.Markets))
	return nil
}

func (c *CCXTClient) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("券商调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)
		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("券商维护中", zap.String("operation", operation), zap.Error(normalizedErr))
			return normalizedErr
		}
		if !retry || attempt >= maxAttempts {
			c.logger.Error("券商调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		c.logger.Warn("券商调用失败，准备重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertOpenOrder(exchange string, order ccxt.Order) NonTradedOrder {
	side := SideBuy
	if strings.EqualFold(derefString(order.Side), "sell") {
		side = SideSell
	}

	submittedAt := time.Time{}
	if ts := derefFloat(order.Timestamp); ts > 0 {
		submittedAt = time.UnixMilli(int64(ts)).UTC()
	}

	return NonTradedOrder{
		OrderNo:      derefString(order.Id),
		Symbol:       derefString(order.Symbol),
		Exchange:     exchange,
		Side:         side,
		Price:        derefFloat(order.Price),
		Quantity:     derefFloat(order.Amount),
		RemainingQty: derefFloat(order.Remaining),
		SubmittedAt:  submittedAt,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
