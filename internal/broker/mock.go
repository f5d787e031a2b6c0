package broker

import (
	"context"
	"fmt"
	"sync"

	"main/internal/obs"
	"main/internal/schema"
)

// Mock is the simulated venue used in paper-trading mode. Orders fill
// synchronously at the limit price when set, else at the reference
// price, and the in-memory account is updated so risk checks stay
// consistent across a run.
type Mock struct {
	mu        sync.Mutex
	connected bool
	equity    float64
	cash      float64
	positions map[string]schema.Position

	placeCalls int
	failWith   error
	seq        *obs.Sequence
}

// NewMock creates a mock broker with the given starting equity.
func NewMock(initialEquity float64) *Mock {
	return &Mock{
		equity:    initialEquity,
		cash:      initialEquity,
		positions: make(map[string]schema.Position),
		seq:       obs.NewSequence(1000),
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *Mock) PlaceOrder(ctx context.Context, order schema.OrderInfo) (schema.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placeCalls++
	if m.failWith != nil {
		return schema.OrderResult{}, m.failWith
	}
	if !m.connected {
		return schema.OrderResult{}, ErrNotConnected
	}

	price := order.ReferencePrice
	if order.Type == schema.OrderTypeLimit && order.LimitPrice > 0 {
		price = order.LimitPrice
	}

	m.applyFill(order, price)

	return schema.OrderResult{
		Success:        true,
		BrokerOrderID:  fmt.Sprintf("MOCK-%d", m.seq.Next()),
		FilledPrice:    price,
		FilledQuantity: order.Quantity,
		Status:         schema.OrderStatusFilled,
		CorrelationID:  order.CorrelationID,
	}, nil
}

func (m *Mock) AccountState(ctx context.Context) (schema.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return schema.AccountState{}, ErrNotConnected
	}

	open := make(map[string]schema.Position, len(m.positions))
	for k, v := range m.positions {
		open[k] = v
	}
	return schema.AccountState{
		Equity:        m.equity,
		AvailableCash: m.cash,
		OpenPositions: open,
	}, nil
}

func (m *Mock) applyFill(order schema.OrderInfo, price float64) {
	delta := order.Quantity
	if order.Action == schema.OrderActionSell || order.Action == schema.OrderActionSellShort {
		delta = -delta
	}

	pos := m.positions[order.Symbol]
	pos.Symbol = order.Symbol
	next := pos.Quantity + delta
	if delta > 0 && next > 0 {
		held := float64(pos.Quantity)*pos.AvgPrice + float64(delta)*price
		pos.AvgPrice = held / float64(next)
	} else if pos.Quantity == 0 {
		pos.AvgPrice = price
	}
	pos.Quantity = next

	m.cash -= float64(delta) * price
	if pos.Quantity == 0 {
		delete(m.positions, order.Symbol)
	} else {
		m.positions[order.Symbol] = pos
	}
}

// PlaceCalls returns how many times PlaceOrder was invoked, including
// injected failures.
func (m *Mock) PlaceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls
}

// FailWith makes every subsequent PlaceOrder return err; nil restores
// normal fills.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SetPosition seeds an open position, for tests and flatten drills.
func (m *Mock) SetPosition(symbol string, quantity int64, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quantity == 0 {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = schema.Position{Symbol: symbol, Quantity: quantity, AvgPrice: avgPrice}
}
