package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictx/matching-core/protocol"
)

// Wallet is a user's collateral account with optimistic concurrency.
// Balance and Locked are kept as decimal at the storage boundary; the
// matching path works in int64 micros and converts on entry.
type Wallet struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID    string          `json:"user_id" gorm:"type:varchar(64);uniqueIndex:idx_wallet_user;not null"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(36,18);default:0;not null"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(36,18);default:0;not null"`
	Version   int64           `json:"version" gorm:"default:1;not null"` // Optimistic concurrency control
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Position tracks a user's share count for one outcome of one market.
// Negative quantities represent sold exposure.
type Position struct {
	ID        uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID    string           `json:"user_id" gorm:"type:varchar(64);uniqueIndex:idx_position_key,priority:1;not null"`
	MarketID  string           `json:"market_id" gorm:"type:varchar(64);uniqueIndex:idx_position_key,priority:2;index:idx_position_market;not null"`
	Outcome   protocol.Outcome `json:"outcome" gorm:"uniqueIndex:idx_position_key,priority:3;not null"`
	Quantity  int64            `json:"quantity" gorm:"default:0;not null"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// EscrowEntry records the outcome of an escrow lock keyed by the caller's
// idempotency key, so replays return the original result instead of
// double-locking.
type EscrowEntry struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"type:varchar(128);uniqueIndex:idx_escrow_idempotency;not null"`
	UserID         string          `json:"user_id" gorm:"type:varchar(64);index:idx_escrow_user;not null"`
	OrderID        string          `json:"order_id" gorm:"type:varchar(64);index:idx_escrow_order"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (EscrowEntry) TableName() string {
	return "escrow_entries"
}

// SettlementBatch tracks one market's settlement lifecycle. Status moves
// one way: computed, then applied.
type SettlementBatch struct {
	ID             uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	MarketID       string           `json:"market_id" gorm:"type:varchar(64);uniqueIndex:idx_settlement_market;not null"`
	WinningOutcome protocol.Outcome `json:"winning_outcome" gorm:"not null"`
	Status         BatchStatus      `json:"status" gorm:"type:varchar(20);not null"`
	TotalPayout    decimal.Decimal  `json:"total_payout" gorm:"type:decimal(36,18);default:0;not null"`
	ClaimCount     int64            `json:"claim_count" gorm:"default:0;not null"`
	CreatedAt      time.Time        `json:"created_at"`
	AppliedAt      *time.Time       `json:"applied_at"`
}

func (SettlementBatch) TableName() string {
	return "settlement_batches"
}

type BatchStatus string

const (
	BatchStatusComputed BatchStatus = "computed"
	BatchStatusApplied  BatchStatus = "applied"
)

// SettlementClaim is one user's payout within a batch. Applied flags let a
// resumed batch skip claims that already reached the wallet.
type SettlementClaim struct {
	ID       uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BatchID  uuid.UUID       `json:"batch_id" gorm:"type:uuid;index:idx_claim_batch;not null"`
	UserID   string          `json:"user_id" gorm:"type:varchar(64);index:idx_claim_user;not null"`
	Payout   decimal.Decimal `json:"payout" gorm:"type:decimal(36,18);default:0;not null"`
	Released decimal.Decimal `json:"released" gorm:"type:decimal(36,18);default:0;not null"`
	Applied  bool            `json:"applied" gorm:"default:false;not null"`
}

func (SettlementClaim) TableName() string {
	return "settlement_claims"
}

// BatchResult is the settlement summary returned to callers.
type BatchResult struct {
	MarketID       string           `json:"market_id"`
	WinningOutcome protocol.Outcome `json:"winning_outcome"`
	TotalPayout    decimal.Decimal  `json:"total_payout"`
	ClaimCount     int64            `json:"claim_count"`
	Replayed       bool             `json:"replayed"`
}

// MicrosToDecimal converts int64 micros of the collateral unit into the
// ledger's decimal representation.
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.New(micros, -6)
}
