package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"main/internal/schema"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(64)
	for i := 0; i < 20; i++ {
		alert := schema.AlertInfo{Symbol: "NQ", CorrelationID: fmt.Sprintf("c-%d", i)}
		if err := q.TryPublish(alert); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	q.Close()

	var got []string
	q.Run(context.Background(), func(a schema.AlertInfo) {
		got = append(got, a.CorrelationID)
	})
	if len(got) != 20 {
		t.Fatalf("consumed %d of 20", len(got))
	}
	for i, id := range got {
		if id != fmt.Sprintf("c-%d", i) {
			t.Fatalf("order broken at %d: %s", i, id)
		}
	}
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(schema.AlertInfo{Symbol: "NQ"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := q.TryPublish(schema.AlertInfo{Symbol: "NQ"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	q.Close()
	if err := q.TryPublish(schema.AlertInfo{Symbol: "NQ"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestShardsKeepSymbolOnOneQueue(t *testing.T) {
	shards := NewShards(4, 512)

	var mu sync.Mutex
	perSymbol := make(map[string][]int)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, q := range shards.Queues() {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			q.Run(ctx, func(a schema.AlertInfo) {
				mu.Lock()
				var seq int
				fmt.Sscanf(a.CorrelationID, "%d", &seq)
				perSymbol[a.Symbol] = append(perSymbol[a.Symbol], seq)
				mu.Unlock()
			})
		}(q)
	}

	symbols := []string{"NQ", "ES", "RTY", "YM", "CL"}
	for i := 0; i < 40; i++ {
		for _, sym := range symbols {
			alert := schema.AlertInfo{Symbol: sym, CorrelationID: fmt.Sprintf("%d", i)}
			if err := shards.Publish(alert); err != nil {
				t.Fatalf("publish %s/%d: %v", sym, i, err)
			}
		}
	}
	shards.Close()
	wg.Wait()

	for _, sym := range symbols {
		seqs := perSymbol[sym]
		if len(seqs) != 40 {
			t.Fatalf("%s: consumed %d of 40", sym, len(seqs))
		}
		for i, seq := range seqs {
			if seq != i {
				t.Fatalf("%s: order broken at %d: got %d", sym, i, seq)
			}
		}
	}
}
