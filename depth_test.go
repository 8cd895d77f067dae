package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictx/matching-core/protocol"
)

func TestAggregateDepthBuckets(t *testing.T) {
	raw := &protocol.DepthSnapshot{
		MarketID: "mkt-rain",
		SeqID:    7,
		Yes: protocol.OutcomeDepth{
			Bids: []protocol.DepthLevel{
				{Price: 490_000, Volume: 100, Orders: 1},
				{Price: 480_000, Volume: 40, Orders: 2},
				{Price: 440_000, Volume: 60, Orders: 1},
			},
			Asks: []protocol.DepthLevel{
				{Price: 510_000, Volume: 30, Orders: 1},
				{Price: 520_000, Volume: 70, Orders: 1},
			},
		},
	}

	// 50_000-micro buckets: 490_000 and 480_000 floor to 450_000,
	// 440_000 floors to 400_000
	agg := AggregateDepth(raw, 50_000, 10)

	assert.Equal(t, uint64(7), agg.SeqID)
	assert.Equal(t, int64(50_000), agg.Granularity)

	require.Len(t, agg.Yes.Bids, 2)
	assert.Equal(t, int64(450_000), agg.Yes.Bids[0].Price)
	assert.Equal(t, int64(140), agg.Yes.Bids[0].Volume)
	assert.Equal(t, int64(3), agg.Yes.Bids[0].Orders)
	assert.Equal(t, int64(400_000), agg.Yes.Bids[1].Price)

	require.Len(t, agg.Yes.Asks, 2)
	assert.Equal(t, int64(500_000), agg.Yes.Asks[0].Price)
	assert.Equal(t, int64(30), agg.Yes.Asks[0].Volume)
}

func TestAggregateDepthNativeTickIsIdentity(t *testing.T) {
	book, _ := createTestBook(t)
	seedYesBook(t, book)

	raw, err := book.Depth(10)
	require.NoError(t, err)

	agg := AggregateDepth(raw, testTick, 10)
	assert.Equal(t, raw.Yes.Bids, agg.Yes.Bids)
	assert.Equal(t, raw.Yes.Asks, agg.Yes.Asks)
}

func TestAggregateDepthCapsLevels(t *testing.T) {
	book, _ := createTestBook(t)
	for i := 0; i < 8; i++ {
		place(t, book, string(rune('a'+i)), "u1", Yes, Buy, int64(400_000+10_000*i), 10)
	}

	raw, err := book.Depth(10)
	require.NoError(t, err)

	agg := AggregateDepth(raw, testTick, 3)
	require.Len(t, agg.Yes.Bids, 3)
	assert.Equal(t, int64(470_000), agg.Yes.Bids[0].Price)
}

func TestAggregatedBookReplay(t *testing.T) {
	ab := NewAggregatedBook(Yes)
	now := time.Now().UTC()

	logs := []*BookLog{
		{SequenceID: 1, Type: LogTypeOpen, Outcome: Yes, Side: Sell, Price: 510_000, Quantity: 100, CreatedAt: now},
		{SequenceID: 2, Type: LogTypeOpen, Outcome: Yes, Side: Buy, Price: 490_000, Quantity: 80, CreatedAt: now},
		// Taker buy matches 40 against the resting ask
		{SequenceID: 3, Type: LogTypeMatch, Outcome: Yes, Side: Buy, Price: 510_000, Quantity: 40, CreatedAt: now},
		{SequenceID: 4, Type: LogTypeCancel, Outcome: Yes, Side: Buy, Price: 490_000, Quantity: 80, CreatedAt: now},
	}

	for _, log := range logs {
		require.NoError(t, ab.Replay(log))
	}

	assert.Equal(t, uint64(4), ab.SequenceID())
	assert.Equal(t, int64(60), ab.Volume(Sell, 510_000))
	assert.Equal(t, int64(0), ab.Volume(Buy, 490_000))

	// Duplicate delivery is a no-op
	require.NoError(t, ab.Replay(logs[2]))
	assert.Equal(t, int64(60), ab.Volume(Sell, 510_000))

	// A gap is surfaced for re-seeding
	err := ab.Replay(&BookLog{SequenceID: 9, Type: LogTypeOpen, Outcome: Yes, Side: Buy, Price: 400_000, Quantity: 10})
	assert.Error(t, err)
}

func TestAggregatedBookMatchesLiveBook(t *testing.T) {
	publishLog := NewMemoryPublishLog()
	book := NewBook("mkt-rain", testTick, 1024, publishLog)
	go func() {
		_ = book.Start()
	}()
	t.Cleanup(func() {
		_ = book.Shutdown(context.Background())
	})

	seedYesBook(t, book)
	place(t, book, "taker", "erin", Yes, Buy, 520_000, 50)
	_, err := book.Cancel(context.Background(), "bid-2")
	require.NoError(t, err)

	ab := NewAggregatedBook(Yes)
	for _, log := range publishLog.All() {
		require.NoError(t, ab.Replay(log))
	}

	depth, err := book.Depth(10)
	require.NoError(t, err)

	for _, lvl := range depth.Yes.Bids {
		assert.Equal(t, lvl.Volume, ab.Volume(Buy, lvl.Price), "bid level %d", lvl.Price)
	}
	for _, lvl := range depth.Yes.Asks {
		assert.Equal(t, lvl.Volume, ab.Volume(Sell, lvl.Price), "ask level %d", lvl.Price)
	}
}
