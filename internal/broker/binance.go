package broker

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/retry"
	"main/internal/schema"
)

// Binance is the real-venue adapter over the spot REST API. Venue
// rejections surface as plain errors; transport failures are tagged
// transient so the executor's retry policy picks them up.
type Binance struct {
	client     *binance.Client
	quoteAsset string

	mu        sync.Mutex
	connected bool
}

// NewBinance creates the adapter without touching the network;
// Connect performs the first call.
func NewBinance(cfg Config) *Binance {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	return &Binance{
		client:     binance.NewClient(cfg.APIKey, cfg.APISecret),
		quoteAsset: cfg.QuoteAsset,
	}
}

func (b *Binance) Connect(ctx context.Context) error {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return errors.Wrap(classify(err), "ping venue")
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	logs.Info("connected to binance")
	return nil
}

func (b *Binance) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *Binance) PlaceOrder(ctx context.Context, order schema.OrderInfo) (schema.OrderResult, error) {
	if !b.isConnected() {
		return schema.OrderResult{}, ErrNotConnected
	}

	svc := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side(order.Action)).
		Quantity(strconv.FormatInt(order.Quantity, 10)).
		NewClientOrderID(order.CorrelationID)

	switch order.Type {
	case schema.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(order.LimitPrice, 'f', -1, 64))
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return schema.OrderResult{}, errors.Wrap(classify(err), "create order").
			With("symbol", order.Symbol).
			With("correlationId", order.CorrelationID)
	}

	result := schema.OrderResult{
		Success:       true,
		BrokerOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:        status(resp.Status),
		CorrelationID: order.CorrelationID,
	}
	if qty, err := strconv.ParseFloat(resp.ExecutedQuantity, 64); err == nil {
		result.FilledQuantity = int64(qty)
	}
	if len(resp.Fills) > 0 {
		if px, err := strconv.ParseFloat(resp.Fills[0].Price, 64); err == nil {
			result.FilledPrice = px
		}
	}
	return result, nil
}

func (b *Binance) AccountState(ctx context.Context) (schema.AccountState, error) {
	if !b.isConnected() {
		return schema.AccountState{}, ErrNotConnected
	}

	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return schema.AccountState{}, errors.Wrap(classify(err), "get account")
	}

	// Spot equity approximated by the quote balance; base holdings
	// become open positions against the quote asset.
	state := schema.AccountState{OpenPositions: make(map[string]schema.Position)}
	for _, bal := range acct.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if bal.Asset == b.quoteAsset {
			state.AvailableCash = free
			state.Equity = free + locked
			continue
		}
		qty := int64(free + locked)
		if qty != 0 {
			sym := strings.ToUpper(bal.Asset) + b.quoteAsset
			state.OpenPositions[sym] = schema.Position{Symbol: sym, Quantity: qty}
		}
	}
	return state, nil
}

func (b *Binance) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// classify keeps venue rejections permanent and tags everything else
// (transport, timeout) as transient.
func classify(err error) error {
	if common.IsAPIError(err) {
		return err
	}
	return retry.Transient(err)
}

func side(action schema.OrderAction) binance.SideType {
	switch action {
	case schema.OrderActionBuy:
		return binance.SideTypeBuy
	default:
		// The spot venue has no native short; SellShort maps to Sell.
		return binance.SideTypeSell
	}
}

func status(s binance.OrderStatusType) schema.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return schema.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return schema.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeNew:
		return schema.OrderStatusSubmitted
	case binance.OrderStatusTypeRejected, binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return schema.OrderStatusRejected
	default:
		return schema.OrderStatusUnknown
	}
}
