package match

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/igrmk/treemap/v2"

	"github.com/predictx/matching-core/protocol"
)

// AggregateDepth buckets a tick-level depth snapshot into the requested
// granularity. Bucket boundaries floor toward zero, so a level at price p
// lands in bucket p - p%granularity. Each side is capped at maxLevels
// buckets, best price first.
func AggregateDepth(snap *protocol.DepthSnapshot, granularity int64, maxLevels int) *protocol.DepthSnapshot {
	out := &protocol.DepthSnapshot{
		MarketID:    snap.MarketID,
		SeqID:       snap.SeqID,
		Granularity: granularity,
		CreatedAt:   snap.CreatedAt,
	}

	out.Yes = protocol.OutcomeDepth{
		Bids: bucketLevels(snap.Yes.Bids, granularity, maxLevels, true),
		Asks: bucketLevels(snap.Yes.Asks, granularity, maxLevels, false),
	}
	out.No = protocol.OutcomeDepth{
		Bids: bucketLevels(snap.No.Bids, granularity, maxLevels, true),
		Asks: bucketLevels(snap.No.Asks, granularity, maxLevels, false),
	}

	return out
}

type bucket struct {
	volume int64
	orders int64
}

func bucketLevels(levels []protocol.DepthLevel, granularity int64, maxLevels int, descending bool) []protocol.DepthLevel {
	tm := treemap.NewWithKeyCompare[int64, *bucket](func(a, b int64) bool {
		if descending {
			return a > b
		}
		return a < b
	})

	for _, lvl := range levels {
		key := lvl.Price - lvl.Price%granularity
		b, ok := tm.Get(key)
		if !ok {
			b = &bucket{}
			tm.Set(key, b)
		}
		b.volume += lvl.Volume
		b.orders += lvl.Orders
	}

	out := make([]protocol.DepthLevel, 0, maxLevels)
	for it := tm.Iterator(); it.Valid() && len(out) < maxLevels; it.Next() {
		out = append(out, protocol.DepthLevel{
			Price:  it.Key(),
			Volume: it.Value().volume,
			Orders: it.Value().orders,
		})
	}

	return out
}

// AggregatedBook maintains a simplified view of one outcome's book,
// tracking only price levels and their aggregated volumes. It is designed
// for downstream services that rebuild depth state from BookLog events
// received off the publish stream.
type AggregatedBook struct {
	mu      sync.Mutex
	seqID   atomic.Uint64 // Last processed SequenceID for gap detection and deduplication
	outcome Outcome
	ask     *treemap.TreeMap[int64, int64]
	bid     *treemap.TreeMap[int64, int64]
}

// NewAggregatedBook creates a new AggregatedBook instance with empty ask
// and bid sides.
func NewAggregatedBook(outcome Outcome) *AggregatedBook {
	return &AggregatedBook{
		outcome: outcome,
		ask: treemap.NewWithKeyCompare[int64, int64](func(a, b int64) bool {
			return a < b
		}),
		bid: treemap.NewWithKeyCompare[int64, int64](func(a, b int64) bool {
			return a > b
		}),
	}
}

// SequenceID returns the last processed sequence ID.
// Used for synchronization and gap detection during rebuild.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID.Load()
}

// Replay applies a BookLog event to update the aggregated book state.
// Reject events do not affect book state but still advance the sequence ID.
// Returns an error when a sequence gap is detected; the caller should
// re-seed from a snapshot before continuing.
func (ab *AggregatedBook) Replay(log *BookLog) error {
	last := ab.seqID.Load()
	if log.SequenceID <= last {
		// Duplicate delivery
		return nil
	}
	if last != 0 && log.SequenceID != last+1 {
		return fmt.Errorf("sequence gap: have %d, got %d", last, log.SequenceID)
	}

	if log.Outcome == ab.outcome {
		ab.mu.Lock()
		switch log.Type {
		case LogTypeOpen:
			ab.apply(log.Side, log.Price, log.Quantity)
		case LogTypeMatch:
			// The maker side of a match is the opposite of the taker side
			ab.apply(log.Side.Opposite(), log.Price, -log.Quantity)
		case LogTypeCancel:
			ab.apply(log.Side, log.Price, -log.Quantity)
		case LogTypeReject:
		}
		ab.mu.Unlock()
	}

	ab.seqID.Store(log.SequenceID)
	return nil
}

func (ab *AggregatedBook) apply(side Side, price, diff int64) {
	tm := ab.bid
	if side == Sell {
		tm = ab.ask
	}

	v, _ := tm.Get(price)
	v += diff
	if v <= 0 {
		tm.Del(price)
		return
	}
	tm.Set(price, v)
}

// Seed resets the aggregated book from a depth snapshot.
// This should be called before replaying events from the publish stream.
func (ab *AggregatedBook) Seed(snap *protocol.DepthSnapshot) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.bid.Clear()
	ab.ask.Clear()

	depth := snap.Yes
	if ab.outcome == No {
		depth = snap.No
	}
	for _, lvl := range depth.Bids {
		ab.bid.Set(lvl.Price, lvl.Volume)
	}
	for _, lvl := range depth.Asks {
		ab.ask.Set(lvl.Price, lvl.Volume)
	}

	ab.seqID.Store(snap.SeqID)
}

// Volume returns the aggregated volume at a specific price level for the
// given side. Returns zero if the price level does not exist.
func (ab *AggregatedBook) Volume(side Side, price int64) int64 {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	tm := ab.bid
	if side == Sell {
		tm = ab.ask
	}
	v, _ := tm.Get(price)
	return v
}
