package structure

import "errors"

// ErrArenaFull is returned when the free list is exhausted. This is a hard
// capacity ceiling for the owning market, not a transient backpressure
// condition; the accept path stays down until capacity is raised or stale
// orders are purged.
var ErrArenaFull = errors.New("order arena is full")

// nilSlot terminates the free list and the per-level FIFO links.
const nilSlot int32 = -1

// NilSlot is the sentinel slot index meaning "no slot".
const NilSlot = nilSlot

// Field offsets within a slot. One slot is arenaStride contiguous int64
// words, so the hot numeric state of an order fits in a single cache line.
const (
	offPrice = iota
	offQuantity
	offRemaining
	offFilled
	offNext
	offPrev
	offSeq
	offFlags

	arenaStride = 8
)

// OrderArena is a fixed-capacity structure-of-arrays store for live order
// records. Slots are recycled through an intrusive free list threaded
// through the NEXT word, so no order record is ever heap-allocated
// individually. Variable-length identifiers (order id, owner id) are kept
// in per-slot side tables because they have no place in the fixed-stride
// numeric layout.
//
// The arena is not safe for concurrent use; it is owned by a single book
// goroutine.
type OrderArena struct {
	words    []int64
	ids      []string
	owners   []string
	capacity int32
	freeHead int32
	live     int32
}

// NewOrderArena creates an arena with the given slot capacity.
func NewOrderArena(capacity int32) *OrderArena {
	if capacity <= 0 {
		panic("structure: arena capacity must be positive")
	}

	a := &OrderArena{
		words:    make([]int64, int(capacity)*arenaStride),
		ids:      make([]string, capacity),
		owners:   make([]string, capacity),
		capacity: capacity,
		freeHead: 0,
	}

	// Thread the free list through the NEXT word of every slot.
	for i := int32(0); i < capacity-1; i++ {
		a.setWord(i, offNext, int64(i+1))
	}
	a.setWord(capacity-1, offNext, int64(nilSlot))

	return a
}

// Allocate takes a slot off the free list and zeroes it so no state leaks
// across orders. Returns ErrArenaFull when no slot is available.
func (a *OrderArena) Allocate() (int32, error) {
	if a.freeHead == nilSlot {
		return nilSlot, ErrArenaFull
	}

	slot := a.freeHead
	a.freeHead = int32(a.word(slot, offNext))

	base := int(slot) * arenaStride
	for i := base; i < base+arenaStride; i++ {
		a.words[i] = 0
	}
	a.setWord(slot, offNext, int64(nilSlot))
	a.setWord(slot, offPrev, int64(nilSlot))

	a.live++
	return slot, nil
}

// Free returns a slot to the free list and drops its side-table entries.
func (a *OrderArena) Free(slot int32) {
	a.ids[slot] = ""
	a.owners[slot] = ""

	a.setWord(slot, offNext, int64(a.freeHead))
	a.freeHead = slot
	a.live--
}

// Full reports whether the next Allocate would fail.
func (a *OrderArena) Full() bool { return a.freeHead == nilSlot }

// Live returns the number of allocated slots.
func (a *OrderArena) Live() int32 { return a.live }

// Cap returns the arena capacity in slots.
func (a *OrderArena) Cap() int32 { return a.capacity }

func (a *OrderArena) word(slot int32, off int) int64 {
	return a.words[int(slot)*arenaStride+off]
}

func (a *OrderArena) setWord(slot int32, off int, v int64) {
	a.words[int(slot)*arenaStride+off] = v
}

// Price accessors (micro-units).

func (a *OrderArena) Price(slot int32) int64 { return a.word(slot, offPrice) }
func (a *OrderArena) SetPrice(slot int32, v int64) { a.setWord(slot, offPrice, v) }

// Quantity accessors (original order size in shares).

func (a *OrderArena) Quantity(slot int32) int64 { return a.word(slot, offQuantity) }
func (a *OrderArena) SetQuantity(slot int32, v int64) { a.setWord(slot, offQuantity, v) }

// Remaining accessors (unfilled shares).

func (a *OrderArena) Remaining(slot int32) int64 { return a.word(slot, offRemaining) }
func (a *OrderArena) SetRemaining(slot int32, v int64) { a.setWord(slot, offRemaining, v) }

// Filled accessors (cumulative filled shares).

func (a *OrderArena) Filled(slot int32) int64 { return a.word(slot, offFilled) }
func (a *OrderArena) SetFilled(slot int32, v int64) { a.setWord(slot, offFilled, v) }

// Next/Prev maintain the FIFO links of the price level the slot rests in.

func (a *OrderArena) Next(slot int32) int32 { return int32(a.word(slot, offNext)) }
func (a *OrderArena) SetNext(slot, next int32) { a.setWord(slot, offNext, int64(next)) }
func (a *OrderArena) Prev(slot int32) int32 { return int32(a.word(slot, offPrev)) }
func (a *OrderArena) SetPrev(slot, prev int32) { a.setWord(slot, offPrev, int64(prev)) }

// Seq accessors (creation sequence number, time priority tie-breaker).

func (a *OrderArena) Seq(slot int32) uint64 { return uint64(a.word(slot, offSeq)) }
func (a *OrderArena) SetSeq(slot int32, v uint64) { a.setWord(slot, offSeq, int64(v)) }

// Flags accessors (packed side/outcome bits, owned by the caller).

func (a *OrderArena) Flags(slot int32) int64 { return a.word(slot, offFlags) }
func (a *OrderArena) SetFlags(slot int32, v int64) { a.setWord(slot, offFlags, v) }

// SetMeta records the variable-length identifiers for a slot.
func (a *OrderArena) SetMeta(slot int32, orderID, ownerID string) {
	a.ids[slot] = orderID
	a.owners[slot] = ownerID
}

// OrderID returns the external order id for a slot.
func (a *OrderArena) OrderID(slot int32) string { return a.ids[slot] }

// OwnerID returns the owning user id for a slot.
func (a *OrderArena) OwnerID(slot int32) string { return a.owners[slot] }
