package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictx/matching-core/protocol"
)

// casRetryLimit bounds how many fresh-read retries a losing writer gets
// before the race surfaces to the caller.
const casRetryLimit = 16

// Escrow coordinates collateral locks, fill settlement and releases over
// the wallet and position stores. It is safe for concurrent use; every
// mutation goes through the wallet store's compare-and-swap.
type Escrow struct {
	wallets   WalletStore
	positions PositionStore
	entries   EscrowStore
}

func NewEscrow(wallets WalletStore, positions PositionStore, entries EscrowStore) *Escrow {
	return &Escrow{wallets: wallets, positions: positions, entries: entries}
}

// LockResult reports whether a lock was freshly taken or replayed from a
// previous call with the same idempotency key.
type LockResult struct {
	Amount   decimal.Decimal
	OrderID  string
	Replayed bool
}

// Lock freezes amount micros of the user's balance as order collateral.
// A zero amount reserves the idempotency key without touching the wallet,
// which is how sell orders claim their key.
//
// The reservation is inserted before any funds move, so of several
// concurrent calls with the same key exactly one takes the lock; the rest
// see Replayed. If the lock itself fails the reservation is removed again
// and a funded retry runs fresh.
func (e *Escrow) Lock(ctx context.Context, userID, orderID, idempotencyKey string, amountMicros int64) (*LockResult, error) {
	amount := MicrosToDecimal(amountMicros)

	if idempotencyKey != "" {
		entry := &EscrowEntry{
			IdempotencyKey: idempotencyKey,
			UserID:         userID,
			OrderID:        orderID,
			Amount:         amount,
		}
		err := e.entries.Record(ctx, entry)
		if errors.Is(err, ErrDuplicateEntry) {
			prior, perr := e.entries.ByKey(ctx, idempotencyKey)
			if perr != nil {
				return nil, perr
			}
			if prior == nil {
				// The holder unwound between our insert and read.
				return nil, ErrDuplicateEntry
			}
			return &LockResult{Amount: prior.Amount, OrderID: prior.OrderID, Replayed: true}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	if amountMicros > 0 {
		err := e.retryCAS(ctx, userID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
			if w.Balance.Sub(w.Locked).LessThan(amount) {
				return decimal.Zero, decimal.Zero, ErrInsufficientBalance
			}
			return decimal.Zero, amount, nil
		})
		if err != nil {
			if idempotencyKey != "" {
				if derr := e.entries.Remove(ctx, idempotencyKey); derr != nil {
					return nil, errors.Join(err, derr)
				}
			}
			return nil, err
		}
	}

	return &LockResult{Amount: amount, OrderID: orderID}, nil
}

// Discard releases an idempotency reservation whose order never reached
// the book, so a retry with the same key runs fresh.
func (e *Escrow) Discard(ctx context.Context, idempotencyKey string) error {
	if idempotencyKey == "" {
		return nil
	}
	return e.entries.Remove(ctx, idempotencyKey)
}

// Unlock releases previously locked collateral, e.g. on cancel or on the
// unfilled remainder of an immediate-or-cancel order.
func (e *Escrow) Unlock(ctx context.Context, userID string, amountMicros int64) error {
	amount := MicrosToDecimal(amountMicros)

	return e.retryCAS(ctx, userID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
		if w.Locked.LessThan(amount) {
			return decimal.Zero, decimal.Zero, ErrInsufficientBalance
		}
		return decimal.Zero, amount.Neg(), nil
	})
}

// ApplyFill settles one fill: the buyer's escrowed cost leaves both
// balance and locked, the seller's balance grows by the same cost, and
// both positions move by the fill quantity.
func (e *Escrow) ApplyFill(ctx context.Context, fill *protocol.Fill) error {
	cost := MicrosToDecimal(fill.Price * fill.Quantity)

	buyerID := fill.TakerUserID
	sellerID := fill.MakerUserID
	if fill.TakerSide == protocol.SideSell {
		buyerID = fill.MakerUserID
		sellerID = fill.TakerUserID
	}

	err := e.retryCAS(ctx, buyerID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
		return cost.Neg(), cost.Neg(), nil
	})
	if err != nil {
		return err
	}

	err = e.retryCAS(ctx, sellerID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
		return cost, decimal.Zero, nil
	})
	if err != nil {
		return err
	}

	if err := e.positions.Apply(ctx, buyerID, fill.MarketID, fill.Outcome, fill.Quantity); err != nil {
		return err
	}
	return e.positions.Apply(ctx, sellerID, fill.MarketID, fill.Outcome, -fill.Quantity)
}

// Credit adds amount to the user's balance, creating no lock. Used by
// settlement payouts.
func (e *Escrow) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return e.retryCAS(ctx, userID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
		return amount, decimal.Zero, nil
	})
}

// Release drops amount from the user's locked collateral without touching
// the balance. Used when settlement frees the escrow of still-open orders.
func (e *Escrow) Release(ctx context.Context, userID string, amount decimal.Decimal) error {
	return e.retryCAS(ctx, userID, func(w *Wallet) (decimal.Decimal, decimal.Decimal, error) {
		if w.Locked.LessThan(amount) {
			return decimal.Zero, decimal.Zero, ErrInsufficientBalance
		}
		return decimal.Zero, amount.Neg(), nil
	})
}

// retryCAS reads the wallet, computes deltas and attempts the swap,
// retrying from a fresh read when another writer won the version race.
func (e *Escrow) retryCAS(ctx context.Context, userID string, deltas func(w *Wallet) (balanceDelta, lockedDelta decimal.Decimal, err error)) error {
	var lastErr error
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		w, err := e.wallets.Wallet(ctx, userID)
		if err != nil {
			return err
		}

		balanceDelta, lockedDelta, err := deltas(w)
		if err != nil {
			return err
		}

		err = e.wallets.CompareAndSwap(ctx, userID, w.Version, balanceDelta, lockedDelta)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
