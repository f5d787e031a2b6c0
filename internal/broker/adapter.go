package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"main/internal/schema"
)

var (
	ErrNotConnected = errors.New("broker not connected")
	ErrUnknownKind  = errors.New("unknown broker kind")
)

// Adapter is the capability contract a trading venue must satisfy.
// PlaceOrder and AccountState honor the deadline on ctx; callers set
// it from the configured broker timeout.
type Adapter interface {
	Connect(ctx context.Context) error
	PlaceOrder(ctx context.Context, order schema.OrderInfo) (schema.OrderResult, error)
	Disconnect()
	AccountState(ctx context.Context) (schema.AccountState, error)
}

// Config selects and parameterizes the adapter. Kind "mock" is the
// paper-trading default.
type Config struct {
	Kind          string        `mapstructure:"kind"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	Testnet       bool          `mapstructure:"testnet"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QuoteAsset    string        `mapstructure:"quote_asset"`
	InitialEquity float64       `mapstructure:"initial_equity"`
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = "mock"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.InitialEquity <= 0 {
		c.InitialEquity = 100_000
	}
	return c
}

// New is the single factory decision point for adapter selection.
func New(cfg Config) (Adapter, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Kind) {
	case "mock", "paper":
		return NewMock(cfg.InitialEquity), nil
	case "binance":
		return NewBinance(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
}
