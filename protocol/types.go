package protocol

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Outcome identifies one leg of a binary-outcome market.
type Outcome int8

const (
	OutcomeYes Outcome = 0
	OutcomeNo  Outcome = 1
)

func (o Outcome) String() string {
	if o == OutcomeYes {
		return "yes"
	}
	return "no"
}

// TimeInForce controls what happens to the unfilled remainder of an order.
type TimeInForce string

const (
	// TIFGoodTillCancel rests the remainder in the book.
	TIFGoodTillCancel TimeInForce = "gtc"
	// TIFImmediateOrCancel discards the remainder after matching.
	TIFImmediateOrCancel TimeInForce = "ioc"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketActive    MarketStatus = "active"
	MarketSuspended MarketStatus = "suspended"
	MarketResolved  MarketStatus = "resolved"
	MarketSettled   MarketStatus = "settled"
)

// EventType represents the type of book event log.
type EventType string

const (
	EventOpen   EventType = "open"
	EventMatch  EventType = "match"
	EventCancel EventType = "cancel"
	EventReject EventType = "reject"
)

// RejectReason explains why an order never entered the book.
type RejectReason string

const (
	RejectReasonNone          RejectReason = ""
	RejectReasonInvalidTick   RejectReason = "invalid_price_tick"
	RejectReasonArenaOverflow RejectReason = "arena_overflow"
	RejectReasonIOCRemainder  RejectReason = "ioc_remainder"
)
