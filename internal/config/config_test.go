package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{Environment: "test", PaperTrading: true},
		Broker: BrokerConfig{
			Exchange: "binanceusdm",
			Markets:  []string{"BTC/USDT:USDT"},
			Retry: RetryConfig{
				MaxAttempts: 3,
				MinDelay:    500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			PollInterval: 2 * time.Second,
		},
		Database: DatabaseConfig{InMemory: true, MaxOpenConns: 1},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
		Dispatch: DispatchConfig{QueueSize: 64},
		Strategies: []StrategyConfig{
			{
				ID:      "s1",
				Product: "stock",
				Cron:    "0 * * * *",
				Logic:   "and",
				Conditions: []map[string]interface{}{
					{"id": "sma_cross"},
				},
			},
		},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Exchange = ""
	cfg.Dispatch.QueueSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	message := err.Error()
	if !strings.Contains(message, "broker.exchange") {
		t.Errorf("expected broker.exchange error in %q", message)
	}
	if !strings.Contains(message, "dispatch.queue_size") {
		t.Errorf("expected dispatch.queue_size error in %q", message)
	}
}

func TestValidate_StrategyRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*StrategyConfig)
	}{
		{"bad product", func(s *StrategyConfig) { s.Product = "forex" }},
		{"negative count", func(s *StrategyConfig) { s.Count = -1 }},
		{"unknown logic", func(s *StrategyConfig) { s.Logic = "maybe" }},
		{"threshold logic without threshold", func(s *StrategyConfig) { s.Logic = "at_least" }},
		{"bad sort_by", func(s *StrategyConfig) { s.MaxSymbols = MaxSymbolsConfig{Limit: 5, SortBy: "alphabet"} }},
		{"bad window mode", func(s *StrategyConfig) {
			s.Orders = []OrderStrategyConfig{{
				ID:     "market_entry",
				Window: TimeWindowConfig{Start: "09:00", End: "15:00", OnOutside: "ignore"},
			}}
		}},
		{"bad window day", func(s *StrategyConfig) {
			s.Orders = []OrderStrategyConfig{{
				ID:     "market_entry",
				Window: TimeWindowConfig{Start: "09:00", End: "15:00", Days: []string{"monday"}},
			}}
		}},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg.Strategies[0])
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidate_AllowsStrategyWithoutConditions(t *testing.T) {
	cfg := validConfig()
	cfg.Strategies[0].Conditions = nil
	cfg.Strategies[0].Logic = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected strategy without conditions to validate, got %v", err)
	}
}

func TestValidate_AllowsScheduleFreeStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Strategies[0].Cron = ""
	cfg.Strategies[0].RunOnceOnStart = false

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected schedule-free strategy to validate, got %v", err)
	}
}

func TestValidate_RejectsDuplicateStrategyIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Strategies = append(cfg.Strategies, cfg.Strategies[0])

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "重复") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestLoad_ReadsYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  environment: test
broker:
  exchange: binanceusdm
  markets:
    - BTC/USDT:USDT
database:
  in_memory: true
dispatch:
  queue_size: 32
strategies:
  - id: s1
    product: futures
    cron: "0 * * * *"
    logic: or
    conditions:
      - id: sma_cross
        params:
          fast: 5
          slow: 20
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Broker.Retry.MaxAttempts != 5 {
		t.Errorf("expected default retry attempts, got %d", cfg.Broker.Retry.MaxAttempts)
	}
	if cfg.Broker.PollInterval != 2*time.Second {
		t.Errorf("expected default poll interval, got %v", cfg.Broker.PollInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level, got %q", cfg.Logging.Level)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].Product != "futures" {
		t.Errorf("unexpected strategies: %+v", cfg.Strategies)
	}
	if len(cfg.Strategies[0].Conditions) != 1 {
		t.Errorf("expected raw condition nodes preserved")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("expected error for missing config file")
	}
}
