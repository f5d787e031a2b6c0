package schema

import (
	"math"
	"time"
)

// Direction is the interpreted bias of an alert.
type Direction uint16

const (
	DirectionUnknown Direction = iota
	DirectionBull
	DirectionBear
)

func (d Direction) String() string {
	switch d {
	case DirectionBull:
		return "bull"
	case DirectionBear:
		return "bear"
	default:
		return "unknown"
	}
}

// OrderAction describes what an order does to a position.
type OrderAction uint16

const (
	OrderActionUnknown OrderAction = iota
	OrderActionBuy
	OrderActionSell
	OrderActionSellShort
)

func (a OrderAction) String() string {
	switch a {
	case OrderActionBuy:
		return "BUY"
	case OrderActionSell:
		return "SELL"
	case OrderActionSellShort:
		return "SELL_SHORT"
	default:
		return "UNKNOWN"
	}
}

// OrderType describes order pricing.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MKT"
	case OrderTypeLimit:
		return "LMT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the normalized terminal status of a submitted order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusFilled
	OrderStatusPartiallyFilled
	OrderStatusRejected
	OrderStatusError
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// AlertInfo is the structured interpretation of a raw chat alert.
// Symbol and Direction are always present; Price is NaN when the alert
// carried no reference price.
type AlertInfo struct {
	Symbol        string
	Price         float64
	Direction     Direction
	StrategyID    string
	MarketData    map[string]float64
	Timestamp     time.Time
	Source        string
	ChannelID     string
	CorrelationID string
}

// HasPrice reports whether the alert carried a reference price.
func (a AlertInfo) HasPrice() bool {
	return !math.IsNaN(a.Price) && a.Price > 0
}

// OrderInfo is a sized, risk-approved order ready for submission.
// LimitPrice is meaningful only when Type is OrderTypeLimit; StopLoss
// and TakeProfit are zero when unset.
type OrderInfo struct {
	Symbol         string
	Action         OrderAction
	Quantity       int64
	Type           OrderType
	LimitPrice     float64
	StopLoss       float64
	TakeProfit     float64
	ReferencePrice float64
	StrategyID     string
	CorrelationID  string
}

// OrderResult is the normalized outcome of one order submission.
type OrderResult struct {
	Success        bool
	BrokerOrderID  string
	FilledPrice    float64
	FilledQuantity int64
	Status         OrderStatus
	ErrorMessage   string
	LatencyMs      float64
	CorrelationID  string
}

// Position is one open position as reported by the broker.
// Quantity is negative for short positions.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice float64
}

// AccountState is the broker account snapshot consumed by risk checks.
type AccountState struct {
	Equity        float64
	AvailableCash float64
	OpenPositions map[string]Position
}
