package ledger

import "errors"

var (
	// ErrInsufficientBalance rejects an escrow lock when the user's free
	// balance cannot cover the required collateral. No state changes.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrConcurrentModification signals a lost optimistic-concurrency race.
	// The escrow coordinator retries from a fresh read; callers only see it
	// after the retry budget is exhausted.
	ErrConcurrentModification = errors.New("wallet version changed concurrently")

	// ErrWalletNotFound is returned for unknown users.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrDuplicateEntry is returned by EscrowStore.Record when the
	// idempotency key is already reserved.
	ErrDuplicateEntry = errors.New("idempotency key already reserved")

	// ErrSettlementProcessed marks a market whose settlement batch was
	// already applied. Callers treat it as a signal to return the stored
	// batch result.
	ErrSettlementProcessed = errors.New("settlement already applied")

	// ErrBatchNotFound is returned when a settlement batch does not exist.
	ErrBatchNotFound = errors.New("settlement batch not found")
)
