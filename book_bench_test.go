package match

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/predictx/matching-core/protocol"
)

func BenchmarkPlaceOrders(b *testing.B) {
	ctx := context.Background()
	book := NewBook("mkt-bench", 10_000, 1<<16, NewDiscardPublishLog())
	go book.Start()
	defer book.Shutdown(ctx)

	// Fixed seed for repeatability
	rng := rand.New(rand.NewSource(42))

	// 50 price levels per side straddling the mid at 500_000 micros
	prices := make([]int64, 100)
	for i := range prices {
		prices[i] = 255_000 + int64(i)*5_000
		prices[i] -= prices[i] % 10_000
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		side := protocol.SideBuy
		if i%2 == 1 {
			side = protocol.SideSell
		}

		_, _ = book.Place(ctx, strconv.Itoa(i), &protocol.PlaceOrderRequest{
			MarketID:    "mkt-bench",
			UserID:      "bench",
			Outcome:     protocol.OutcomeYes,
			Side:        side,
			Price:       prices[rng.Intn(len(prices))],
			Quantity:    1,
			TimeInForce: protocol.TIFGoodTillCancel,
		})
	}
}

func BenchmarkDepthAggregation(b *testing.B) {
	ctx := context.Background()
	book := NewBook("mkt-bench", 10_000, 1<<16, NewDiscardPublishLog())
	go book.Start()
	defer book.Shutdown(ctx)

	for i := 0; i < 200; i++ {
		price := 200_000 + int64(i)*1_000
		price -= price % 10_000
		side := protocol.SideBuy
		if price >= 500_000 {
			side = protocol.SideSell
		}
		_, _ = book.Place(ctx, strconv.Itoa(i), &protocol.PlaceOrderRequest{
			MarketID:    "mkt-bench",
			UserID:      "bench",
			Outcome:     protocol.OutcomeYes,
			Side:        side,
			Price:       price,
			Quantity:    10,
			TimeInForce: protocol.TIFGoodTillCancel,
		})
	}

	snap, err := book.Depth(100)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = AggregateDepth(snap, 50_000, 20)
	}
}
