package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Reason tags a rejection with the rule that produced it.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonBlacklisted
	ReasonDuplicateSignal
	ReasonMaxOpenPositions
	ReasonNoReferencePrice
	ReasonQuantityZero
	ReasonPositionTooLarge
	ReasonLossTooLarge
	ReasonDailyLossLimitReached
)

// ReasonCount is the number of defined rejection reasons.
const ReasonCount = int(ReasonDailyLossLimitReached) + 1

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonBlacklisted:
		return "Blacklisted"
	case ReasonDuplicateSignal:
		return "DuplicateSignal"
	case ReasonMaxOpenPositions:
		return "MaxOpenPositions"
	case ReasonNoReferencePrice:
		return "NoReferencePrice"
	case ReasonQuantityZero:
		return "QuantityZero"
	case ReasonPositionTooLarge:
		return "PositionTooLarge"
	case ReasonLossTooLarge:
		return "LossTooLarge"
	case ReasonDailyLossLimitReached:
		return "DailyLossLimitReached"
	default:
		return "Unknown"
	}
}

// Rejection is the error returned when a guard rule fails. It is never
// retried.
type Rejection struct {
	Reason        Reason
	Detail        string
	CorrelationID string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "risk rejection: " + r.Reason.String()
	}
	return fmt.Sprintf("risk rejection: %s (%s)", r.Reason, r.Detail)
}

// Limits is the risk configuration snapshot, read-only during a run.
// Fractions are of account equity.
type Limits struct {
	MaxPositionSize     float64       `mapstructure:"max_position_size"`
	MaxLossPerTrade     float64       `mapstructure:"max_loss_per_trade"`
	DailyLossLimit      float64       `mapstructure:"daily_loss_limit"`
	MaxOpenPositions    int           `mapstructure:"max_open_positions"`
	Blacklist           []string      `mapstructure:"blacklist"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	DefaultRiskFraction float64       `mapstructure:"default_risk_fraction"`
	AllowShort          bool          `mapstructure:"allow_short"`
	StopLossRatio       float64       `mapstructure:"stop_loss_ratio"`
	TakeProfitRatio     float64       `mapstructure:"take_profit_ratio"`
}

func (l Limits) withDefaults() Limits {
	if l.MaxPositionSize <= 0 {
		l.MaxPositionSize = 0.02
	}
	if l.MaxLossPerTrade <= 0 {
		l.MaxLossPerTrade = 0.01
	}
	if l.DailyLossLimit <= 0 {
		l.DailyLossLimit = 0.05
	}
	if l.MaxOpenPositions <= 0 {
		l.MaxOpenPositions = 5
	}
	if l.Cooldown <= 0 {
		l.Cooldown = 5 * time.Minute
	}
	if l.DefaultRiskFraction <= 0 {
		l.DefaultRiskFraction = 0.02
	}
	return l
}

// Guard validates and sizes parsed alerts into orders. Evaluate and
// its state commit run under one lock so concurrent evaluations for
// different symbols cannot both pass a count or loss check before
// either is recorded.
type Guard struct {
	limits Limits

	mu        sync.Mutex
	blacklist map[string]struct{}
	recent    map[string]time.Time
	dailyPnL  float64
	latched   bool

	now func() time.Time
}

// NewGuard creates a guard with the given limits, applying defaults to
// unset fields.
func NewGuard(limits Limits) *Guard {
	limits = limits.withDefaults()
	blacklist := make(map[string]struct{}, len(limits.Blacklist))
	for _, s := range limits.Blacklist {
		blacklist[s] = struct{}{}
	}
	return &Guard{
		limits:    limits,
		blacklist: blacklist,
		recent:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// Evaluate applies the guard rules in fixed order, short-circuiting at
// the first failure, and sizes the order on success. The returned
// error is always a *Rejection when evaluation fails.
func (g *Guard) Evaluate(alert schema.AlertInfo, account schema.AccountState) (schema.OrderInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	reject := func(reason Reason, detail string) (schema.OrderInfo, error) {
		return schema.OrderInfo{}, &Rejection{Reason: reason, Detail: detail, CorrelationID: alert.CorrelationID}
	}

	if _, ok := g.blacklist[alert.Symbol]; ok {
		return reject(ReasonBlacklisted, alert.Symbol)
	}

	key := alert.Symbol + "|" + alert.Direction.String()
	now := g.now()
	if last, ok := g.recent[key]; ok && now.Sub(last) < g.limits.Cooldown {
		return reject(ReasonDuplicateSignal, fmt.Sprintf("cooldown %s", g.limits.Cooldown))
	}

	if len(account.OpenPositions) >= g.limits.MaxOpenPositions {
		return reject(ReasonMaxOpenPositions, fmt.Sprintf("%d open", len(account.OpenPositions)))
	}

	if !alert.HasPrice() {
		return reject(ReasonNoReferencePrice, "")
	}
	budget := math.Min(g.limits.MaxPositionSize*account.Equity, account.AvailableCash)
	quantity := int64(math.Floor(budget / alert.Price))
	if quantity <= 0 {
		return reject(ReasonQuantityZero, fmt.Sprintf("budget %.2f at price %.2f", budget, alert.Price))
	}
	notional := float64(quantity) * alert.Price
	if notional > g.limits.MaxPositionSize*account.Equity {
		return reject(ReasonPositionTooLarge, fmt.Sprintf("notional %.2f", notional))
	}

	stopDistance := alert.Price * g.limits.DefaultRiskFraction
	if g.limits.StopLossRatio > 0 {
		stopDistance = alert.Price * g.limits.StopLossRatio
	}
	worstLoss := float64(quantity) * stopDistance
	if worstLoss > g.limits.MaxLossPerTrade*account.Equity {
		return reject(ReasonLossTooLarge, fmt.Sprintf("worst case %.2f", worstLoss))
	}

	if g.latched || g.dailyPnL <= -g.limits.DailyLossLimit*account.Equity {
		if !g.latched {
			g.latched = true
			logs.Warnf("daily loss limit reached (pnl %.2f), blocking new entries", g.dailyPnL)
		}
		return reject(ReasonDailyLossLimitReached, fmt.Sprintf("daily pnl %.2f", g.dailyPnL))
	}

	order := schema.OrderInfo{
		Symbol:         alert.Symbol,
		Action:         g.action(alert.Direction),
		Quantity:       quantity,
		Type:           schema.OrderTypeMarket,
		ReferencePrice: alert.Price,
		StrategyID:     alert.StrategyID,
		CorrelationID:  alert.CorrelationID,
	}
	if g.limits.StopLossRatio > 0 {
		if alert.Direction == schema.DirectionBull {
			order.StopLoss = alert.Price * (1 - g.limits.StopLossRatio)
		} else {
			order.StopLoss = alert.Price * (1 + g.limits.StopLossRatio)
		}
		if g.limits.TakeProfitRatio > 0 {
			move := g.limits.StopLossRatio * g.limits.TakeProfitRatio
			if alert.Direction == schema.DirectionBull {
				order.TakeProfit = alert.Price * (1 + move)
			} else {
				order.TakeProfit = alert.Price * (1 - move)
			}
		}
	}

	g.recent[key] = now
	return order, nil
}

func (g *Guard) action(d schema.Direction) schema.OrderAction {
	if d == schema.DirectionBull {
		return schema.OrderActionBuy
	}
	if g.limits.AllowShort {
		return schema.OrderActionSellShort
	}
	return schema.OrderActionSell
}

// RecordPnL feeds realized or estimated profit-and-loss into the daily
// total.
func (g *Guard) RecordPnL(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL += delta
	logs.Infof("daily pnl updated: %.2f", g.dailyPnL)
}

// DailyPnL returns the accumulated daily profit-and-loss.
func (g *Guard) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnL
}

// Latched reports whether the daily-loss latch is engaged.
func (g *Guard) Latched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

// NewDay releases the daily-loss latch and clears the cooldown table.
func (g *Guard) NewDay() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latched || g.dailyPnL != 0 {
		logs.Infof("new trading day: resetting daily pnl from %.2f", g.dailyPnL)
	}
	g.dailyPnL = 0
	g.latched = false
	g.recent = make(map[string]time.Time)
}

// AddBlacklist blocks a symbol at runtime.
func (g *Guard) AddBlacklist(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blacklist[symbol] = struct{}{}
}

// RemoveBlacklist unblocks a symbol.
func (g *Guard) RemoveBlacklist(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blacklist, symbol)
}
