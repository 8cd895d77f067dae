package protocol

import "time"

// PriceScale is the number of price micro-units in one currency unit.
// A share of the winning outcome pays exactly PriceScale micros, so every
// valid order price lies strictly between 0 and PriceScale.
const PriceScale int64 = 1_000_000

// PlaceOrderRequest is the payload for placing a new limit order.
// Price is expressed in micro-units and must be an exact multiple of the
// market's current tick size. Quantity is a whole number of shares.
type PlaceOrderRequest struct {
	MarketID       string      `json:"market_id"`
	UserID         string      `json:"user_id"`
	Outcome        Outcome     `json:"outcome"`
	Side           Side        `json:"side"`
	Price          int64       `json:"price"`
	Quantity       int64       `json:"quantity"`
	TimeInForce    TimeInForce `json:"time_in_force,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// Fill describes a single match between an incoming (taker) order and a
// resting (maker) order. Price is always the maker's price.
type Fill struct {
	TradeID      uint64    `json:"trade_id"`
	MarketID     string    `json:"market_id"`
	Outcome      Outcome   `json:"outcome"`
	TakerSide    Side      `json:"taker_side"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	TakerOrderID string    `json:"taker_order_id"`
	TakerUserID  string    `json:"taker_user_id"`
	MakerOrderID string    `json:"maker_order_id"`
	MakerUserID  string    `json:"maker_user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// PlaceOrderResult is the synchronous outcome of order acceptance.
type PlaceOrderResult struct {
	OrderID         string `json:"order_id"`
	Fills           []Fill `json:"fills"`
	RestingQuantity int64  `json:"resting_quantity"`
	// Seq is the book's arrival sequence for the resting portion; zero
	// when nothing rested.
	Seq uint64 `json:"seq,omitempty"`
	// Replayed is true when the result was recognized via the caller's
	// idempotency key instead of being executed again.
	Replayed bool `json:"replayed,omitempty"`
}

// CancelResult reports the quantity removed from the book by a cancellation.
type CancelResult struct {
	OrderID          string  `json:"order_id"`
	MarketID         string  `json:"market_id"`
	Outcome          Outcome `json:"outcome"`
	Side             Side    `json:"side"`
	Price            int64   `json:"price"`
	ReleasedQuantity int64   `json:"released_quantity"`
}

// DepthLevel is one aggregated price bucket of a depth view.
type DepthLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Orders int64 `json:"orders,omitempty"`
}

// OutcomeDepth holds both sides of one outcome's book, best price first.
type OutcomeDepth struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

// DepthSnapshot is a bucketed view of a market's books at one granularity.
// Granularity equals the market tick for a raw (unbucketed) view.
type DepthSnapshot struct {
	MarketID    string       `json:"market_id"`
	SeqID       uint64       `json:"seq_id"`
	Granularity int64        `json:"granularity"`
	Yes         OutcomeDepth `json:"yes"`
	No          OutcomeDepth `json:"no"`
	CreatedAt   time.Time    `json:"created_at"`
}

// BookOrder is the serializable state of a single resting order, used for
// full book snapshots and rehydration.
type BookOrder struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Outcome   Outcome `json:"outcome"`
	Side      Side    `json:"side"`
	Price     int64   `json:"price"`
	Quantity  int64   `json:"quantity"`
	Remaining int64   `json:"remaining"`
	Filled    int64   `json:"filled"`
	Seq       uint64  `json:"seq"`
}

// SnapshotMetadata identifies the engine and schema that produced a
// snapshot, plus the last command sequence it covers.
type SnapshotMetadata struct {
	Timestamp     int64  `json:"timestamp"` // Unix Nano
	EngineVersion string `json:"engine_version"`
	SchemaVersion int    `json:"schema_version"`
	LastCmdSeqID  uint64 `json:"last_cmd_seq_id"`
}

// BookSnapshot contains the full resting state of a market's books.
// Orders are listed best price first, FIFO within a price level.
type BookSnapshot struct {
	MarketID  string           `json:"market_id"`
	SeqID     uint64           `json:"seq_id"`
	TradeID   uint64           `json:"trade_id"`
	Tick      int64            `json:"tick"`
	Metadata  SnapshotMetadata `json:"metadata"`
	Yes       SideOrders       `json:"yes"`
	No        SideOrders       `json:"no"`
	CreatedAt time.Time        `json:"created_at"`
}

// SideOrders groups one outcome's resting orders by side.
type SideOrders struct {
	Bids []BookOrder `json:"bids"`
	Asks []BookOrder `json:"asks"`
}
