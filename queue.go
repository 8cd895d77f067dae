package match

import (
	"github.com/huandu/skiplist"

	"github.com/predictx/matching-core/protocol"
	"github.com/predictx/matching-core/structure"
)

type priceUnit struct {
	totalQuantity int64
	head          int32
	tail          int32
	count         int64
}

// queue holds one side of one outcome's book. Orders live in the market's
// shared arena; the queue only stores slot indexes. Price levels are kept
// in a skip list sorted best-first, with a map for O(1) level lookup.
type queue struct {
	side        Side
	arena       *structure.OrderArena
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[int64]*skiplist.Element
	slots       map[string]int32
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The levels are sorted by price in descending order (highest price first).
func NewBuyerQueue(arena *structure.OrderArena) *queue {
	return &queue{
		side:  Buy,
		arena: arena,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(int64)
			p2, _ := rhs.(int64)

			if p1 < p2 {
				return 1
			} else if p1 > p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[int64]*skiplist.Element),
		slots:     make(map[string]int32),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The levels are sorted by price in ascending order (lowest price first).
func NewSellerQueue(arena *structure.OrderArena) *queue {
	return &queue{
		side:  Sell,
		arena: arena,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(int64)
			p2, _ := rhs.(int64)

			if p1 > p2 {
				return 1
			} else if p1 < p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[int64]*skiplist.Element),
		slots:     make(map[string]int32),
	}
}

// slot finds an order's arena slot by its ID.
func (q *queue) slot(id string) (int32, bool) {
	s, ok := q.slots[id]
	return s, ok
}

// insertSlot appends an order slot to its price level's FIFO.
// It updates the price list and depth list.
func (q *queue) insertSlot(slot int32) {
	price := q.arena.Price(slot)
	id := q.arena.OrderID(slot)

	el, ok := q.priceList[price]
	if ok {
		unit, _ := el.Value.(*priceUnit)

		// Push Back
		q.arena.SetPrev(slot, unit.tail)
		q.arena.SetNext(slot, structure.NilSlot)
		if unit.tail != structure.NilSlot {
			q.arena.SetNext(unit.tail, slot)
		}
		unit.tail = slot
		if unit.head == structure.NilSlot {
			unit.head = slot
		}

		unit.totalQuantity += q.arena.Remaining(slot)
		unit.count++
		q.slots[id] = slot
		q.totalOrders++
	} else {
		unit := &priceUnit{
			head:          slot,
			tail:          slot,
			totalQuantity: q.arena.Remaining(slot),
			count:         1,
		}
		q.arena.SetNext(slot, structure.NilSlot)
		q.arena.SetPrev(slot, structure.NilSlot)

		q.slots[id] = slot

		el := q.depthList.Set(price, unit)
		q.priceList[price] = el

		q.totalOrders++
		q.depths++
	}
}

// removeSlot unlinks an order from its price level by price and ID.
// It also cleans up the price level if it becomes empty. The arena slot
// itself is not freed; the caller owns that.
func (q *queue) removeSlot(price int64, id string) {
	skipElement, ok := q.priceList[price]
	if !ok {
		return
	}
	unit, _ := skipElement.Value.(*priceUnit)

	slot, ok := q.slots[id]
	if !ok {
		return
	}

	// Unlink from the level's FIFO
	prev := q.arena.Prev(slot)
	next := q.arena.Next(slot)
	if prev != structure.NilSlot {
		q.arena.SetNext(prev, next)
	} else {
		unit.head = next
	}

	if next != structure.NilSlot {
		q.arena.SetPrev(next, prev)
	} else {
		unit.tail = prev
	}

	q.arena.SetNext(slot, structure.NilSlot)
	q.arena.SetPrev(slot, structure.NilSlot)

	unit.totalQuantity -= q.arena.Remaining(slot)
	unit.count--
	delete(q.slots, id)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, price)
		q.depths--
	}
}

// reduce decreases an order's remaining quantity in-place, preserving its
// priority. Used for partial fills.
func (q *queue) reduce(slot int32, fillQty int64) {
	price := q.arena.Price(slot)

	skipElement, ok := q.priceList[price]
	if ok {
		unit, _ := skipElement.Value.(*priceUnit)
		unit.totalQuantity -= fillQty
	}

	q.arena.SetRemaining(slot, q.arena.Remaining(slot)-fillQty)
	q.arena.SetFilled(slot, q.arena.Filled(slot)+fillQty)
}

// peekHeadSlot returns the slot at the front of the queue (best price)
// without removing it, or structure.NilSlot when the side is empty.
func (q *queue) peekHeadSlot() int32 {
	el := q.depthList.Front()
	if el == nil {
		return structure.NilSlot
	}

	unit, _ := el.Value.(*priceUnit)
	return unit.head
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// toSnapshot serializes the queue into a slice of BookOrder structs.
// It walks the skip list (price levels) and then each level's FIFO to
// preserve priority.
func (q *queue) toSnapshot() []protocol.BookOrder {
	snapshots := make([]protocol.BookOrder, 0, q.totalOrders)

	elem := q.depthList.Front()
	for elem != nil {
		unit := elem.Value.(*priceUnit)

		slot := unit.head
		for slot != structure.NilSlot {
			snapshots = append(snapshots, protocol.BookOrder{
				ID:        q.arena.OrderID(slot),
				UserID:    q.arena.OwnerID(slot),
				Side:      q.side,
				Price:     q.arena.Price(slot),
				Quantity:  q.arena.Quantity(slot),
				Remaining: q.arena.Remaining(slot),
				Filled:    q.arena.Filled(slot),
				Seq:       q.arena.Seq(slot),
			})
			slot = q.arena.Next(slot)
		}

		elem = elem.Next()
	}

	return snapshots
}

// depth returns the side's aggregated depth up to the specified limit of
// price levels, best price first.
func (q *queue) depth(limit int) []protocol.DepthLevel {
	result := make([]protocol.DepthLevel, 0, limit)

	el := q.depthList.Front()

	i := 0
	for i < limit && el != nil {
		unit, _ := el.Value.(*priceUnit)
		price, _ := el.Key().(int64)

		result = append(result, protocol.DepthLevel{
			Price:  price,
			Volume: unit.totalQuantity,
			Orders: unit.count,
		})

		el = el.Next()
		i++
	}

	return result
}
