package match

import (
	"sync"
	"time"

	"github.com/predictx/matching-core/protocol"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type Outcome = protocol.Outcome

const (
	Yes Outcome = protocol.OutcomeYes
	No  Outcome = protocol.OutcomeNo
)

type LogType = protocol.EventType

const (
	LogTypeOpen   LogType = protocol.EventOpen
	LogTypeMatch  LogType = protocol.EventMatch
	LogTypeCancel LogType = protocol.EventCancel
	LogTypeReject LogType = protocol.EventReject
)

type RejectReason = protocol.RejectReason

// BookLog represents an event emitted by a market's book.
// SequenceID is a per-market increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use Type to determine if the event affects book state:
// - Open, Match, Cancel: affect book state
// - Reject: does not affect book state
type BookLog struct {
	SequenceID   uint64               `json:"seq_id"`
	TradeID      uint64               `json:"trade_id,omitempty"` // Sequential trade ID, only set for Match events
	Type         LogType              `json:"type"`
	MarketID     string               `json:"market_id"`
	Outcome      Outcome              `json:"outcome"`
	Side         Side                 `json:"side"`
	Price        int64                `json:"price"` // micros
	Quantity     int64                `json:"quantity"`
	OrderID      string               `json:"order_id"`
	UserID       string               `json:"user_id"`
	MakerOrderID string               `json:"maker_order_id,omitempty"`
	MakerUserID  string               `json:"maker_user_id,omitempty"`
	RejectReason RejectReason         `json:"reject_reason,omitempty"`
	TimeInForce  protocol.TimeInForce `json:"time_in_force,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	*log = BookLog{}
	bookLogPool.Put(log)
}

func newOpenLog(seqID uint64, marketID string, outcome Outcome, side Side, price, quantity int64, orderID, userID string) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.MarketID = marketID
	log.Outcome = outcome
	log.Side = side
	log.Price = price
	log.Quantity = quantity
	log.OrderID = orderID
	log.UserID = userID
	log.CreatedAt = time.Now().UTC()
	return log
}

func newMatchLog(seqID, tradeID uint64, marketID string, outcome Outcome, takerSide Side, price, quantity int64, takerOrderID, takerUserID, makerOrderID, makerUserID string) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.TradeID = tradeID
	log.Type = LogTypeMatch
	log.MarketID = marketID
	log.Outcome = outcome
	log.Side = takerSide
	log.Price = price
	log.Quantity = quantity
	log.OrderID = takerOrderID
	log.UserID = takerUserID
	log.MakerOrderID = makerOrderID
	log.MakerUserID = makerUserID
	log.CreatedAt = time.Now().UTC()
	return log
}

func newCancelLog(seqID uint64, marketID string, outcome Outcome, side Side, price, released int64, orderID, userID string) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.MarketID = marketID
	log.Outcome = outcome
	log.Side = side
	log.Price = price
	log.Quantity = released
	log.OrderID = orderID
	log.UserID = userID
	log.CreatedAt = time.Now().UTC()
	return log
}

func newRejectLog(seqID uint64, marketID string, outcome Outcome, side Side, price, quantity int64, orderID, userID string, reason RejectReason) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.MarketID = marketID
	log.Outcome = outcome
	log.Side = side
	log.Price = price
	log.Quantity = quantity
	log.OrderID = orderID
	log.UserID = userID
	log.RejectReason = reason
	log.CreatedAt = time.Now().UTC()
	return log
}
