package executor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/retry"
	"main/internal/schema"
)

// scriptedAdapter fails with errs[i] on call i and succeeds after the
// script is exhausted.
type scriptedAdapter struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *scriptedAdapter) Connect(ctx context.Context) error { return nil }
func (s *scriptedAdapter) Disconnect()                       {}

func (s *scriptedAdapter) AccountState(ctx context.Context) (schema.AccountState, error) {
	return schema.AccountState{}, nil
}

func (s *scriptedAdapter) PlaceOrder(ctx context.Context, order schema.OrderInfo) (schema.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return schema.OrderResult{}, s.errs[idx]
	}
	return schema.OrderResult{
		Success:        true,
		BrokerOrderID:  "SCRIPT-1",
		FilledPrice:    order.ReferencePrice,
		FilledQuantity: order.Quantity,
		Status:         schema.OrderStatusFilled,
		CorrelationID:  order.CorrelationID,
	}, nil
}

func (s *scriptedAdapter) placeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testOrder(correlationID string) schema.OrderInfo {
	return schema.OrderInfo{
		Symbol:         "NQ",
		Action:         schema.OrderActionBuy,
		Quantity:       2,
		Type:           schema.OrderTypeMarket,
		ReferencePrice: 100,
		CorrelationID:  correlationID,
	}
}

func TestExecuteSuccess(t *testing.T) {
	adapter := &scriptedAdapter{}
	exec := New(adapter, Config{}, nil)

	result, err := exec.Execute(context.Background(), testOrder("corr-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.Status != schema.OrderStatusFilled {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.LatencyMs < 0 {
		t.Fatalf("latency not recorded: %+v", result)
	}
	if stats := exec.StatsSnapshot(); stats.Placed != 1 {
		t.Fatalf("stats mismatch: %+v", stats)
	}
}

func TestExecuteDeduplicatesCorrelationID(t *testing.T) {
	adapter := &scriptedAdapter{}
	exec := New(adapter, Config{}, nil)
	ctx := context.Background()

	first, err := exec.Execute(ctx, testOrder("corr-dup"))
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := exec.Execute(ctx, testOrder("corr-dup"))
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if adapter.placeCalls() != 1 {
		t.Fatalf("duplicate reached the broker: %d calls", adapter.placeCalls())
	}
	if second.BrokerOrderID != first.BrokerOrderID {
		t.Fatalf("cached result mismatch: %+v vs %+v", first, second)
	}
	if stats := exec.StatsSnapshot(); stats.Deduped != 1 {
		t.Fatalf("stats mismatch: %+v", stats)
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	adapter := &scriptedAdapter{errs: []error{retry.Transient(errors.New("connection reset"))}}
	exec := New(adapter, Config{MaxAttempts: 3}, nil)

	result, err := exec.Execute(context.Background(), testOrder("corr-retry"))
	if err != nil {
		t.Fatalf("execute should recover: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if adapter.placeCalls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", adapter.placeCalls())
	}
}

func TestExecutePermanentFailureNotRetried(t *testing.T) {
	rejected := errors.New("insufficient balance")
	adapter := &scriptedAdapter{errs: []error{rejected, rejected, rejected}}
	exec := New(adapter, Config{MaxAttempts: 3}, nil)

	result, err := exec.Execute(context.Background(), testOrder("corr-perm"))
	if !errors.Is(err, rejected) {
		t.Fatalf("expected venue rejection, got %v", err)
	}
	if adapter.placeCalls() != 1 {
		t.Fatalf("permanent failure must not retry: %d calls", adapter.placeCalls())
	}
	if result.Status != schema.OrderStatusError {
		t.Fatalf("unexpected status: %v", result.Status)
	}
}

func TestExecuteOpenBreakerFailsFast(t *testing.T) {
	boom := errors.New("venue down")
	adapter := &scriptedAdapter{errs: []error{boom, boom, boom, boom}}
	exec := New(adapter, Config{
		MaxAttempts: 1,
		Breaker:     breaker.Config{Threshold: 2, ResetTimeout: time.Hour},
	}, nil)
	ctx := context.Background()

	_, _ = exec.Execute(ctx, testOrder("corr-a"))
	_, _ = exec.Execute(ctx, testOrder("corr-b"))
	if exec.BreakerState() != breaker.StateOpen {
		t.Fatalf("breaker should be open, state %v", exec.BreakerState())
	}

	calls := adapter.placeCalls()
	result, err := exec.Execute(ctx, testOrder("corr-c"))
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if adapter.placeCalls() != calls {
		t.Fatalf("open breaker must not reach the broker")
	}
	if result.Status != schema.OrderStatusRejected {
		t.Fatalf("open breaker should reject, got %v", result.Status)
	}
}

func TestFailedAttemptReleasesReservation(t *testing.T) {
	boom := errors.New("boom")
	adapter := &scriptedAdapter{errs: []error{boom}}
	exec := New(adapter, Config{MaxAttempts: 1}, nil)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, testOrder("corr-x")); err == nil {
		t.Fatal("first attempt should fail")
	}
	result, err := exec.Execute(ctx, testOrder("corr-x"))
	if err != nil {
		t.Fatalf("resubmission after failure should place again: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if adapter.placeCalls() != 2 {
		t.Fatalf("expected 2 placements, got %d", adapter.placeCalls())
	}
}

func TestDedupEntryExpires(t *testing.T) {
	adapter := &scriptedAdapter{}
	exec := New(adapter, Config{DedupTTL: time.Minute}, nil)
	ctx := context.Background()

	clock := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	exec.now = func() time.Time { return clock }

	if _, err := exec.Execute(ctx, testOrder("corr-ttl")); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := exec.Execute(ctx, testOrder("corr-ttl")); err != nil {
		t.Fatalf("execute after ttl: %v", err)
	}
	if adapter.placeCalls() != 2 {
		t.Fatalf("expired entry should place again: %d calls", adapter.placeCalls())
	}
}

func TestLimitSlippagePricing(t *testing.T) {
	mock := broker.NewMock(100_000)
	ctx := context.Background()
	_ = mock.Connect(ctx)

	exec := New(mock, Config{LimitSlippage: 0.001}, nil)
	result, err := exec.Execute(ctx, testOrder("corr-slip"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Buy at reference 100 becomes a limit at 100.1.
	if math.Abs(result.FilledPrice-100.1) > 1e-9 {
		t.Fatalf("slippage limit not applied: filled at %v", result.FilledPrice)
	}

	sell := testOrder("corr-slip-sell")
	sell.Action = schema.OrderActionSell
	result, err = exec.Execute(ctx, sell)
	if err != nil {
		t.Fatalf("execute sell: %v", err)
	}
	if math.Abs(result.FilledPrice-99.9) > 1e-9 {
		t.Fatalf("sell slippage limit not applied: filled at %v", result.FilledPrice)
	}
}

func TestFlattenClosesAllPositions(t *testing.T) {
	mock := broker.NewMock(100_000)
	ctx := context.Background()
	_ = mock.Connect(ctx)
	mock.SetPosition("NQ", 10, 100)
	mock.SetPosition("ES", 4, 50)
	mock.SetPosition("RTY", -3, 80)

	exec := New(mock, Config{}, nil)
	if err := exec.Flatten(ctx, "emergency stop"); err != nil {
		t.Fatalf("flatten: %v", err)
	}

	state, err := mock.AccountState(ctx)
	if err != nil {
		t.Fatalf("account state: %v", err)
	}
	if len(state.OpenPositions) != 0 {
		t.Fatalf("positions remain after flatten: %+v", state.OpenPositions)
	}
}

func TestFlattenNoPositionsIsNoop(t *testing.T) {
	mock := broker.NewMock(10_000)
	ctx := context.Background()
	_ = mock.Connect(ctx)

	exec := New(mock, Config{}, nil)
	if err := exec.Flatten(ctx, "drill"); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if mock.PlaceCalls() != 0 {
		t.Fatalf("no orders expected: %d", mock.PlaceCalls())
	}
}
