package match

import (
	"time"

	"github.com/predictx/matching-core/protocol"
)

// createSnapshot captures the full resting state of the book.
// Runs on the book goroutine.
func (book *Book) createSnapshot() *protocol.BookSnapshot {
	now := time.Now().UTC()
	snap := &protocol.BookSnapshot{
		MarketID:  book.marketID,
		SeqID:     book.seqID.Load(),
		TradeID:   book.tradeID.Load(),
		Tick:      book.tick.Load(),
		CreatedAt: now,
		Metadata: protocol.SnapshotMetadata{
			Timestamp:     now.UnixNano(),
			EngineVersion: EngineVersion,
			SchemaVersion: SnapshotSchemaVersion,
			LastCmdSeqID:  book.lastCmdSeqID.Load(),
		},
	}

	snap.Yes = protocol.SideOrders{
		Bids: book.outcomeOrders(Yes, Buy),
		Asks: book.outcomeOrders(Yes, Sell),
	}
	snap.No = protocol.SideOrders{
		Bids: book.outcomeOrders(No, Buy),
		Asks: book.outcomeOrders(No, Sell),
	}

	return snap
}

func (book *Book) outcomeOrders(outcome Outcome, side Side) []protocol.BookOrder {
	orders := book.sides[outcome][side-1].toSnapshot()
	for i := range orders {
		orders[i].Outcome = outcome
	}
	return orders
}

// NewBookFromSnapshot rebuilds a book from a snapshot. Orders are re-seated
// into fresh arena slots preserving price and arrival priority.
func NewBookFromSnapshot(snap *protocol.BookSnapshot, arenaCapacity int32, publishLog PublishLog) (*Book, error) {
	if snap == nil {
		return nil, ErrInvalidParam
	}

	if snap.Metadata.SchemaVersion > SnapshotSchemaVersion {
		return nil, ErrInvalidParam
	}

	book := NewBook(snap.MarketID, snap.Tick, arenaCapacity, publishLog)
	book.seqID.Store(snap.SeqID)
	book.tradeID.Store(snap.TradeID)
	book.cmdSeq.Store(snap.Metadata.LastCmdSeqID)
	book.lastCmdSeqID.Store(snap.Metadata.LastCmdSeqID)

	var maxSeq uint64
	restore := func(orders []protocol.BookOrder) error {
		for i := range orders {
			if err := book.seatOrder(&orders[i]); err != nil {
				return err
			}
			if orders[i].Seq > maxSeq {
				maxSeq = orders[i].Seq
			}
		}
		return nil
	}

	for _, side := range []*protocol.SideOrders{&snap.Yes, &snap.No} {
		if err := restore(side.Bids); err != nil {
			return nil, err
		}
		if err := restore(side.Asks); err != nil {
			return nil, err
		}
	}

	book.orderSeq.Store(maxSeq)
	return book, nil
}

// seatOrder allocates an arena slot for a snapshot order and links it into
// its queue. Snapshot slices are ordered best price first, FIFO within a
// level, so append-only insertion preserves priority.
func (book *Book) seatOrder(order *protocol.BookOrder) error {
	slot, err := book.arena.Allocate()
	if err != nil {
		return err
	}

	book.arena.SetMeta(slot, order.ID, order.UserID)
	book.arena.SetPrice(slot, order.Price)
	book.arena.SetQuantity(slot, order.Quantity)
	book.arena.SetRemaining(slot, order.Remaining)
	book.arena.SetFilled(slot, order.Filled)
	book.arena.SetSeq(slot, order.Seq)
	book.arena.SetFlags(slot, packFlags(order.Outcome, order.Side))
	book.sides[order.Outcome][order.Side-1].insertSlot(slot)

	return nil
}
