package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode     string   `yaml:"mode"`     // DRY_RUN or LIVE
	Exchange string   `yaml:"exchange"` // BINANCE or PAPER
	BotID    string   `yaml:"bot_id"`
	Quote    string   `yaml:"quote"` // Quote currency, e.g. USDT
	Universe []string `yaml:"universe"`

	CadenceHours int `yaml:"cadence_hours"`

	Strategy struct {
		MaxPositions     int     `yaml:"max_positions"`
		MaxAllocFraction float64 `yaml:"max_alloc_fraction"`
		MinOrderUSD      float64 `yaml:"min_order_usd"`
		MinBalanceUSD    float64 `yaml:"min_balance_usd"`
		RSILow           float64 `yaml:"rsi_low"`
		RSIHigh          float64 `yaml:"rsi_high"`
		VolatilityPause  float64 `yaml:"volatility_pause_pct"`
		CooldownCycles   int     `yaml:"cooldown_cycles"`
		CashBufferFloor  float64 `yaml:"cash_buffer_floor_usd"`
	} `yaml:"strategy"`

	Risk struct {
		MinProfitUSD        float64 `yaml:"min_profit_usd"`
		MinProfitPct        float64 `yaml:"min_profit_pct"`
		MaxLossUSD          float64 `yaml:"max_loss_usd"`
		MaxLossPct          float64 `yaml:"max_loss_pct"`
		MinPositionValue    float64 `yaml:"min_position_value_for_exit"`
		ProfitFeeBufferPct  float64 `yaml:"profit_fee_buffer_pct"`
		VolatilityAdjFactor float64 `yaml:"volatility_adjustment_factor"`
		TakerFeePct         float64 `yaml:"taker_fee_pct"`
		MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	} `yaml:"risk"`

	Execution struct {
		MakerOffsetPct     float64 `yaml:"maker_offset_pct"`
		FillTimeoutMinutes int     `yaml:"fill_timeout_minutes"`
		PollSeconds        int     `yaml:"poll_seconds"`
		MaxSlippagePct     float64 `yaml:"max_slippage_pct"`
	} `yaml:"execution"`

	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Exchange != "BINANCE" && c.Exchange != "PAPER" {
		return fmt.Errorf("invalid exchange '%s': must be 'BINANCE' or 'PAPER'", c.Exchange)
	}
	if len(c.Universe) == 0 {
		return errors.New("universe cannot be empty")
	}
	if c.CadenceHours <= 0 || c.CadenceHours > 24 {
		return fmt.Errorf("cadence_hours must be between 1-24, got %d", c.CadenceHours)
	}
	if c.Strategy.MaxAllocFraction <= 0 || c.Strategy.MaxAllocFraction > 1 {
		return fmt.Errorf("strategy.max_alloc_fraction must be between 0-1, got %.2f", c.Strategy.MaxAllocFraction)
	}
	if c.Strategy.RSILow >= c.Strategy.RSIHigh {
		return fmt.Errorf("strategy.rsi_low (%.1f) must be below rsi_high (%.1f)", c.Strategy.RSILow, c.Strategy.RSIHigh)
	}
	if c.Execution.MaxSlippagePct <= 0 {
		return errors.New("execution.max_slippage_pct must be positive")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.BotID == "" {
		c.BotID = "bot-1"
	}
	if c.Quote == "" {
		c.Quote = "USDT"
	}
	if c.CadenceHours == 0 {
		c.CadenceHours = 6
	}
	if c.Strategy.MaxPositions == 0 {
		c.Strategy.MaxPositions = 5
	}
	if c.Strategy.MaxAllocFraction == 0 {
		c.Strategy.MaxAllocFraction = 0.2
	}
	if c.Strategy.MinOrderUSD == 0 {
		c.Strategy.MinOrderUSD = 5
	}
	if c.Strategy.MinBalanceUSD == 0 {
		c.Strategy.MinBalanceUSD = 50
	}
	if c.Strategy.RSILow == 0 {
		c.Strategy.RSILow = 40
	}
	if c.Strategy.RSIHigh == 0 {
		c.Strategy.RSIHigh = 70
	}
	if c.Strategy.VolatilityPause == 0 {
		c.Strategy.VolatilityPause = 15
	}
	if c.Strategy.CooldownCycles == 0 {
		c.Strategy.CooldownCycles = 2
	}
	if c.Strategy.CashBufferFloor == 0 {
		c.Strategy.CashBufferFloor = 10
	}
	if c.Risk.MinProfitUSD == 0 {
		c.Risk.MinProfitUSD = 1
	}
	if c.Risk.MinProfitPct == 0 {
		c.Risk.MinProfitPct = 0.5
	}
	if c.Risk.MaxLossUSD == 0 {
		c.Risk.MaxLossUSD = 2
	}
	if c.Risk.MaxLossPct == 0 {
		c.Risk.MaxLossPct = 3
	}
	if c.Risk.MinPositionValue == 0 {
		c.Risk.MinPositionValue = 2
	}
	if c.Risk.ProfitFeeBufferPct == 0 {
		c.Risk.ProfitFeeBufferPct = 0.1
	}
	if c.Risk.VolatilityAdjFactor == 0 {
		c.Risk.VolatilityAdjFactor = 1.5
	}
	if c.Risk.TakerFeePct == 0 {
		c.Risk.TakerFeePct = 0.1
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 20
	}
	if c.Execution.MakerOffsetPct == 0 {
		c.Execution.MakerOffsetPct = 0.05
	}
	if c.Execution.FillTimeoutMinutes == 0 {
		c.Execution.FillTimeoutMinutes = 10
	}
	if c.Execution.PollSeconds == 0 {
		c.Execution.PollSeconds = 5
	}
	if c.Execution.MaxSlippagePct == 0 {
		c.Execution.MaxSlippagePct = 1
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/ledger.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}
