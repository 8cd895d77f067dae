package match

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/predictx/matching-core/protocol"
	"github.com/predictx/matching-core/structure"
)

// CommandType represents the type of command sent to the book.
type CommandType int

const (
	CmdPlaceOrder CommandType = iota
	CmdCancelOrder
	CmdDepth
	CmdGetStats
	CmdSnapshot
)

// Command represents a unified command sent to the book.
// It improves deterministic ordering and performance by using a single channel.
type Command struct {
	SeqID   uint64
	Type    CommandType
	Payload any
	Resp    chan any // Optional: for synchronous response
}

type Response struct {
	Error error
	Data  any
}

// placeRequest pairs an external place command with the order ID assigned
// by the venue before escrow was taken.
type placeRequest struct {
	Cmd     *protocol.PlaceOrderRequest
	OrderID string
}

// BookStats contains statistics about the book's queues and arena.
type BookStats struct {
	OrderCount [2][2]int64 // [outcome][side-1]
	DepthCount [2][2]int64
	ArenaLive  int32
	ArenaCap   int32
}

// Book holds both outcome books of a single market and processes all
// state-mutating commands on one goroutine. YES and NO share the market's
// order arena, so capacity is a per-market budget.
type Book struct {
	marketID         string
	seqID            atomic.Uint64 // Increasing sequence ID for BookLog production
	cmdSeq           atomic.Uint64 // Stamped on each mutating command at submission
	lastCmdSeqID     atomic.Uint64 // Last sequence ID of the command
	tradeID          atomic.Uint64 // Sequential trade ID counter, only incremented for Match events
	orderSeq         atomic.Uint64 // Arrival sequence stamped on each accepted order
	tick             atomic.Int64  // Current tick size in micros, updated by the governor
	isShutdown       atomic.Bool
	arena            *structure.OrderArena
	sides            [2][2]*queue // [outcome][side-1]
	cmdChan          chan Command
	done             chan struct{}
	shutdownComplete chan struct{}
	publishLog       PublishLog
}

// NewBook creates a new book instance for one market.
func NewBook(marketID string, tick int64, arenaCapacity int32, publishLog PublishLog) *Book {
	arena := structure.NewOrderArena(arenaCapacity)

	book := &Book{
		marketID:         marketID,
		arena:            arena,
		cmdChan:          make(chan Command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publishLog:       publishLog,
	}
	book.tick.Store(tick)

	for _, outcome := range []Outcome{Yes, No} {
		book.sides[outcome][Buy-1] = NewBuyerQueue(arena)
		book.sides[outcome][Sell-1] = NewSellerQueue(arena)
	}

	return book
}

// Tick returns the market's current tick size in micros.
func (book *Book) Tick() int64 {
	return book.tick.Load()
}

// SetTick updates the tick size. Orders accepted after the store observe
// the new alignment; resting orders are never repriced.
func (book *Book) SetTick(tick int64) {
	if tick > 0 {
		book.tick.Store(tick)
	}
}

// LastCmdSeqID returns the sequence ID of the last processed command.
// This is used for snapshot recovery to know where to resume consuming from.
func (book *Book) LastCmdSeqID() uint64 {
	return book.lastCmdSeqID.Load()
}

// Place submits an order and waits for the matching outcome.
// Returns ErrShutdown if the book is shutting down.
func (book *Book) Place(ctx context.Context, orderID string, cmd *protocol.PlaceOrderRequest) (*protocol.PlaceOrderResult, error) {
	if book.isShutdown.Load() {
		return nil, ErrShutdown
	}

	if len(orderID) == 0 || cmd == nil || cmd.Quantity <= 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdPlaceOrder, SeqID: book.cmdSeq.Add(1), Payload: &placeRequest{Cmd: cmd, OrderID: orderID}, Resp: respChan}:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		r, _ := res.(*Response)
		if r == nil {
			return nil, ErrInvalidParam
		}
		if r.Error != nil {
			return nil, r.Error
		}
		result, _ := r.Data.(*protocol.PlaceOrderResult)
		return result, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Cancel removes a resting order and reports the released quantity.
func (book *Book) Cancel(ctx context.Context, orderID string) (*protocol.CancelResult, error) {
	if book.isShutdown.Load() {
		return nil, ErrShutdown
	}

	if len(orderID) == 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdCancelOrder, SeqID: book.cmdSeq.Add(1), Payload: orderID, Resp: respChan}:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		r, _ := res.(*Response)
		if r == nil {
			return nil, ErrInvalidParam
		}
		if r.Error != nil {
			return nil, r.Error
		}
		result, _ := r.Data.(*protocol.CancelResult)
		return result, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Depth returns the raw (tick-level) depth of both outcome books up to the
// specified number of price levels per side.
func (book *Book) Depth(limit int) (*protocol.DepthSnapshot, error) {
	if limit <= 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdDepth, Payload: limit, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*protocol.DepthSnapshot); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// GetStats returns usage statistics for the book.
// It is thread-safe and interacts with the book loop via a channel.
func (book *Book) GetStats() (*BookStats, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdGetStats, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*BookStats); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Snapshot captures the full resting state of the book.
func (book *Book) Snapshot() (*protocol.BookSnapshot, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdSnapshot, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*protocol.BookSnapshot); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Start starts the book loop to process orders, cancellations, and depth requests.
// Returns nil when Shutdown() is called and all pending commands are drained.
func (book *Book) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.handleCommand(cmd)
			if cmd.SeqID > 0 {
				book.lastCmdSeqID.Store(cmd.SeqID)
			}
		}
	}
}

func (book *Book) handleCommand(cmd Command) {
	switch cmd.Type {
	case CmdPlaceOrder:
		if req, ok := cmd.Payload.(*placeRequest); ok {
			result, err := book.placeOrder(req.OrderID, req.Cmd)
			reply(cmd.Resp, &Response{Error: err, Data: result})
		}
	case CmdCancelOrder:
		if orderID, ok := cmd.Payload.(string); ok {
			result, err := book.cancelOrder(orderID)
			reply(cmd.Resp, &Response{Error: err, Data: result})
		}
	case CmdDepth:
		if limit, ok := cmd.Payload.(int); ok {
			reply(cmd.Resp, book.depth(limit))
		}
	case CmdGetStats:
		stats := &BookStats{
			ArenaLive: book.arena.Live(),
			ArenaCap:  book.arena.Cap(),
		}
		for _, outcome := range []Outcome{Yes, No} {
			for _, side := range []Side{Buy, Sell} {
				q := book.sides[outcome][side-1]
				stats.OrderCount[outcome][side-1] = q.orderCount()
				stats.DepthCount[outcome][side-1] = q.depthCount()
			}
		}
		reply(cmd.Resp, stats)
	case CmdSnapshot:
		reply(cmd.Resp, book.createSnapshot())
	}
}

// reply sends a response on resp without blocking. If no one is listening,
// the response is dropped.
func reply(resp chan any, v any) {
	if resp == nil {
		return
	}
	select {
	case resp <- v:
	default:
	}
}

// Shutdown signals the book to stop accepting new commands and waits for all
// pending commands to be processed.
// Returns nil if shutdown completed successfully, or ctx.Err() if the context was cancelled.
func (book *Book) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands in the channel before returning.
func (book *Book) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			book.handleCommand(cmd)
		default:
			return nil
		}
	}
}

// placeOrder validates, matches and possibly rests an incoming order.
// It runs on the book goroutine; all queue and arena access is serialized here.
func (book *Book) placeOrder(orderID string, cmd *protocol.PlaceOrderRequest) (*protocol.PlaceOrderResult, error) {
	tick := book.tick.Load()
	if err := validatePrice(cmd.Price, tick); err != nil {
		book.reject(cmd, orderID, protocol.RejectReasonInvalidTick)
		return nil, err
	}

	// Matching only frees arena slots, so one free slot up front guarantees
	// the rest of the path cannot fail on capacity.
	if book.arena.Full() {
		book.reject(cmd, orderID, protocol.RejectReasonArenaOverflow)
		return nil, ErrArenaOverflow
	}

	myQueue := book.sides[cmd.Outcome][cmd.Side-1]
	targetQueue := book.sides[cmd.Outcome][cmd.Side.Opposite()-1]

	logs := make([]*BookLog, 0, 8)
	now := time.Now().UTC()

	result := &protocol.PlaceOrderResult{OrderID: orderID}
	remaining := cmd.Quantity

	for remaining > 0 {
		tSlot := targetQueue.peekHeadSlot()
		if tSlot == structure.NilSlot {
			break
		}

		tPrice := book.arena.Price(tSlot)
		if cmd.Side == Buy && cmd.Price < tPrice ||
			cmd.Side == Sell && cmd.Price > tPrice {
			break
		}

		// Execute at the maker's price
		tRemaining := book.arena.Remaining(tSlot)
		fillQty := remaining
		if tRemaining < fillQty {
			fillQty = tRemaining
		}

		makerOrderID := book.arena.OrderID(tSlot)
		makerUserID := book.arena.OwnerID(tSlot)

		tradeID := book.tradeID.Add(1)
		seqID := book.seqID.Add(1)

		logs = append(logs, newMatchLog(seqID, tradeID, book.marketID, cmd.Outcome, cmd.Side,
			tPrice, fillQty, orderID, cmd.UserID, makerOrderID, makerUserID))

		result.Fills = append(result.Fills, protocol.Fill{
			TradeID:      tradeID,
			MarketID:     book.marketID,
			Outcome:      cmd.Outcome,
			TakerSide:    cmd.Side,
			Price:        tPrice,
			Quantity:     fillQty,
			TakerOrderID: orderID,
			TakerUserID:  cmd.UserID,
			MakerOrderID: makerOrderID,
			MakerUserID:  makerUserID,
			CreatedAt:    now,
		})

		remaining -= fillQty

		if tRemaining > fillQty {
			targetQueue.reduce(tSlot, fillQty)
		} else {
			targetQueue.removeSlot(tPrice, makerOrderID)
			book.arena.Free(tSlot)
		}
	}

	if remaining > 0 {
		if cmd.TimeInForce == protocol.TIFImmediateOrCancel {
			seqID := book.seqID.Add(1)
			log := newRejectLog(seqID, book.marketID, cmd.Outcome, cmd.Side, cmd.Price, remaining,
				orderID, cmd.UserID, protocol.RejectReasonIOCRemainder)
			logs = append(logs, log)
		} else {
			slot, err := book.arena.Allocate()
			if err != nil {
				// Unreachable given the upfront Full() check
				book.flush(logs)
				return result, err
			}

			book.arena.SetMeta(slot, orderID, cmd.UserID)
			book.arena.SetPrice(slot, cmd.Price)
			book.arena.SetQuantity(slot, cmd.Quantity)
			book.arena.SetRemaining(slot, remaining)
			book.arena.SetFilled(slot, cmd.Quantity-remaining)
			orderSeq := book.orderSeq.Add(1)
			book.arena.SetSeq(slot, orderSeq)
			book.arena.SetFlags(slot, packFlags(cmd.Outcome, cmd.Side))
			myQueue.insertSlot(slot)

			result.RestingQuantity = remaining
			result.Seq = orderSeq

			seqID := book.seqID.Add(1)
			logs = append(logs, newOpenLog(seqID, book.marketID, cmd.Outcome, cmd.Side, cmd.Price,
				remaining, orderID, cmd.UserID))
		}
	}

	book.flush(logs)
	return result, nil
}

// cancelOrder removes a resting order from whichever queue holds it.
func (book *Book) cancelOrder(orderID string) (*protocol.CancelResult, error) {
	for _, outcome := range []Outcome{Yes, No} {
		for _, side := range []Side{Buy, Sell} {
			q := book.sides[outcome][side-1]
			slot, ok := q.slot(orderID)
			if !ok {
				continue
			}

			price := book.arena.Price(slot)
			released := book.arena.Remaining(slot)
			userID := book.arena.OwnerID(slot)

			q.removeSlot(price, orderID)
			book.arena.Free(slot)

			seqID := book.seqID.Add(1)
			log := newCancelLog(seqID, book.marketID, outcome, side, price, released, orderID, userID)
			book.flush([]*BookLog{log})

			return &protocol.CancelResult{
				OrderID:          orderID,
				MarketID:         book.marketID,
				Outcome:          outcome,
				Side:             side,
				Price:            price,
				ReleasedQuantity: released,
			}, nil
		}
	}

	return nil, ErrOrderNotFound
}

// depth assembles tick-level depth for both outcomes.
func (book *Book) depth(limit int) *protocol.DepthSnapshot {
	return &protocol.DepthSnapshot{
		MarketID:    book.marketID,
		SeqID:       book.seqID.Load(),
		Granularity: book.tick.Load(),
		Yes: protocol.OutcomeDepth{
			Bids: book.sides[Yes][Buy-1].depth(limit),
			Asks: book.sides[Yes][Sell-1].depth(limit),
		},
		No: protocol.OutcomeDepth{
			Bids: book.sides[No][Buy-1].depth(limit),
			Asks: book.sides[No][Sell-1].depth(limit),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// reject emits a reject log without touching book state.
func (book *Book) reject(cmd *protocol.PlaceOrderRequest, orderID string, reason RejectReason) {
	seqID := book.seqID.Add(1)
	log := newRejectLog(seqID, book.marketID, cmd.Outcome, cmd.Side, cmd.Price, cmd.Quantity,
		orderID, cmd.UserID, reason)
	book.flush([]*BookLog{log})
}

// flush publishes logs and recycles them to the pool.
func (book *Book) flush(logs []*BookLog) {
	if len(logs) == 0 {
		return
	}
	book.publishLog.Publish(logs...)
	for _, log := range logs {
		releaseBookLog(log)
	}
}

// packFlags encodes the outcome and side of a slot so snapshots can
// reconstruct queue membership without external state.
func packFlags(outcome Outcome, side Side) int64 {
	return int64(outcome)<<8 | int64(side)
}

func unpackFlags(flags int64) (Outcome, Side) {
	return Outcome(flags >> 8), Side(flags & 0xff)
}
