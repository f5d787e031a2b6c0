package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/obs"
	"main/internal/retry"
	"main/internal/schema"
)

// ErrDuplicate is returned when an order with the same correlation ID
// is already in flight.
var ErrDuplicate = errors.New("duplicate order in flight")

// Config tunes submission behavior. DedupTTL bounds how long a
// completed correlation ID suppresses resubmission.
type Config struct {
	MaxAttempts  int            `mapstructure:"max_attempts"`
	OrderTimeout time.Duration  `mapstructure:"order_timeout"`
	DedupTTL     time.Duration  `mapstructure:"dedup_ttl"`
	Breaker      breaker.Config `mapstructure:"breaker"`

	// LimitSlippage > 0 converts market orders into marketable limit
	// orders priced that fraction through the reference price.
	LimitSlippage float64 `mapstructure:"limit_slippage"`
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 10 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 5 * time.Minute
	}
	return c
}

// Stats counts submission outcomes since startup.
type Stats struct {
	Placed  uint64
	Failed  uint64
	Deduped uint64
}

type dedupEntry struct {
	result  schema.OrderResult
	done    bool
	expires time.Time
}

// Executor submits risk-approved orders through the broker adapter,
// wrapping each placement in the retry policy around the circuit
// breaker. Resubmissions with a known correlation ID return the cached
// result instead of reaching the venue.
type Executor struct {
	adapter broker.Adapter
	brk     *breaker.Breaker
	policy  retry.Policy
	metrics *obs.Metrics
	cfg     Config

	mu    sync.Mutex
	dedup map[string]dedupEntry
	stats Stats

	now func() time.Time
}

// New builds an executor over the given adapter. metrics may be nil.
func New(adapter broker.Adapter, cfg Config, metrics *obs.Metrics) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		adapter: adapter,
		brk:     breaker.New("broker", cfg.Breaker),
		policy:  retry.NewPolicy(cfg.MaxAttempts, retry.DefaultBackoff()),
		metrics: metrics,
		cfg:     cfg,
		dedup:   make(map[string]dedupEntry),
		now:     time.Now,
	}
}

// Connect establishes the broker session.
func (e *Executor) Connect(ctx context.Context) error {
	return e.adapter.Connect(ctx)
}

// Disconnect tears down the broker session.
func (e *Executor) Disconnect() {
	e.adapter.Disconnect()
}

// AccountState returns the current broker account snapshot.
func (e *Executor) AccountState(ctx context.Context) (schema.AccountState, error) {
	return e.adapter.AccountState(ctx)
}

// BreakerState exposes the circuit state for operator surfaces.
func (e *Executor) BreakerState() breaker.State {
	return e.brk.State()
}

// StatsSnapshot returns the outcome counters.
func (e *Executor) StatsSnapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Execute submits one order. Transient broker failures are retried with
// backoff; an open circuit fails fast with a rejected result. A repeat
// correlation ID within the dedup TTL returns the original result
// without placing again.
func (e *Executor) Execute(ctx context.Context, order schema.OrderInfo) (schema.OrderResult, error) {
	if cached, ok, err := e.reserve(order.CorrelationID); err != nil {
		return schema.OrderResult{}, err
	} else if ok {
		logs.Infof("order %s already executed, returning cached result", order.CorrelationID)
		return cached, nil
	}

	order = e.applySlippage(order)
	start := e.now()
	var result schema.OrderResult
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		return e.brk.Execute(func() error {
			octx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
			defer cancel()
			r, perr := e.adapter.PlaceOrder(octx, order)
			if perr != nil {
				return perr
			}
			result = r
			return nil
		})
	})
	elapsed := time.Since(start)
	e.metrics.ObserveExecute(elapsed)

	if err != nil {
		e.release(order.CorrelationID)
		status := schema.OrderStatusError
		if errors.Is(err, breaker.ErrOpen) {
			status = schema.OrderStatusRejected
		}
		logs.Errorf("order %s failed: %v", order.CorrelationID, err)
		return schema.OrderResult{
			Status:        status,
			ErrorMessage:  err.Error(),
			LatencyMs:     float64(elapsed) / float64(time.Millisecond),
			CorrelationID: order.CorrelationID,
		}, err
	}

	result.LatencyMs = float64(elapsed) / float64(time.Millisecond)
	e.complete(order.CorrelationID, result)
	return result, nil
}

// Flatten closes every open position with market orders. Failures are
// logged per symbol and reported in aggregate so one stuck symbol does
// not stop the rest.
func (e *Executor) Flatten(ctx context.Context, reason string) error {
	state, err := e.adapter.AccountState(ctx)
	if err != nil {
		return err
	}
	if len(state.OpenPositions) == 0 {
		logs.Infof("flatten (%s): no open positions", reason)
		return nil
	}

	logs.Warnf("flatten (%s): closing %d positions", reason, len(state.OpenPositions))
	failed := 0
	for _, pos := range state.OpenPositions {
		order := closingOrder(pos)
		if _, cerr := e.Execute(ctx, order); cerr != nil {
			failed++
			logs.Errorf("flatten: close %s failed: %v", pos.Symbol, cerr)
		}
	}
	if failed > 0 {
		return errors.New("flatten incomplete, some close orders failed")
	}
	return nil
}

// applySlippage prices a market order as a limit through the reference
// price so a fast-moving book cannot fill arbitrarily far away.
func (e *Executor) applySlippage(order schema.OrderInfo) schema.OrderInfo {
	if e.cfg.LimitSlippage <= 0 || order.Type != schema.OrderTypeMarket || order.ReferencePrice <= 0 {
		return order
	}
	order.Type = schema.OrderTypeLimit
	if order.Action == schema.OrderActionBuy {
		order.LimitPrice = order.ReferencePrice * (1 + e.cfg.LimitSlippage)
	} else {
		order.LimitPrice = order.ReferencePrice * (1 - e.cfg.LimitSlippage)
	}
	return order
}

func closingOrder(pos schema.Position) schema.OrderInfo {
	action := schema.OrderActionSell
	qty := pos.Quantity
	if qty < 0 {
		action = schema.OrderActionBuy
		qty = -qty
	}
	return schema.OrderInfo{
		Symbol:         pos.Symbol,
		Action:         action,
		Quantity:       qty,
		Type:           schema.OrderTypeMarket,
		ReferencePrice: pos.AvgPrice,
		CorrelationID:  uuid.NewString(),
	}
}

// reserve claims a correlation ID before placement. It returns the
// cached result when a completed entry is still within TTL, and
// ErrDuplicate when the same ID is currently in flight.
func (e *Executor) reserve(correlationID string) (schema.OrderResult, bool, error) {
	if correlationID == "" {
		return schema.OrderResult{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for id, entry := range e.dedup {
		if entry.done && now.After(entry.expires) {
			delete(e.dedup, id)
		}
	}

	if entry, ok := e.dedup[correlationID]; ok {
		if entry.done {
			e.stats.Deduped++
			return entry.result, true, nil
		}
		return schema.OrderResult{}, false, ErrDuplicate
	}

	e.dedup[correlationID] = dedupEntry{}
	return schema.OrderResult{}, false, nil
}

func (e *Executor) release(correlationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if correlationID != "" {
		delete(e.dedup, correlationID)
	}
	e.stats.Failed++
}

func (e *Executor) complete(correlationID string, result schema.OrderResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if correlationID != "" {
		e.dedup[correlationID] = dedupEntry{
			result:  result,
			done:    true,
			expires: e.now().Add(e.cfg.DedupTTL),
		}
	}
	e.stats.Placed++
}
