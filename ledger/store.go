package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictx/matching-core/protocol"
)

// WalletStore persists user collateral accounts. CompareAndSwap applies
// both deltas atomically only when the stored version still matches
// expectedVersion, returning ErrConcurrentModification otherwise.
type WalletStore interface {
	Wallet(ctx context.Context, userID string) (*Wallet, error)
	Create(ctx context.Context, wallet *Wallet) error
	CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, balanceDelta, lockedDelta decimal.Decimal) error
}

// PositionStore persists per-user per-outcome share counts.
type PositionStore interface {
	Position(ctx context.Context, userID, marketID string, outcome protocol.Outcome) (*Position, error)
	Apply(ctx context.Context, userID, marketID string, outcome protocol.Outcome, quantityDelta int64) error
	ByMarket(ctx context.Context, marketID string) ([]Position, error)
}

// EscrowStore records lock outcomes keyed by idempotency key.
type EscrowStore interface {
	ByKey(ctx context.Context, idempotencyKey string) (*EscrowEntry, error)
	// Record reserves the entry's idempotency key. A key that is already
	// present fails with ErrDuplicateEntry; the insert is the atomicity
	// point for duplicate submissions.
	Record(ctx context.Context, entry *EscrowEntry) error
	Remove(ctx context.Context, idempotencyKey string) error
}

// SettlementStore persists settlement batches and their claims.
type SettlementStore interface {
	BatchByMarket(ctx context.Context, marketID string) (*SettlementBatch, error)
	CreateBatch(ctx context.Context, batch *SettlementBatch, claims []SettlementClaim) error
	Claims(ctx context.Context, batchID uuid.UUID) ([]SettlementClaim, error)
	MarkClaimApplied(ctx context.Context, claimID uuid.UUID) error
	MarkBatchApplied(ctx context.Context, batchID uuid.UUID) error
}
