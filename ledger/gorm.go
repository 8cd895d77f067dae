package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/predictx/matching-core/protocol"
)

// GormWalletStore persists wallets through gorm. The conditional UPDATE
// guarded by version implements optimistic concurrency without row locks.
type GormWalletStore struct {
	db *gorm.DB
}

func NewGormWalletStore(db *gorm.DB) *GormWalletStore {
	return &GormWalletStore{db: db}
}

// Migrate creates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &Position{}, &EscrowEntry{}, &SettlementBatch{}, &SettlementClaim{})
}

func (s *GormWalletStore) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *GormWalletStore) Create(ctx context.Context, wallet *Wallet) error {
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	if wallet.Version == 0 {
		wallet.Version = 1
	}
	return s.db.WithContext(ctx).Create(wallet).Error
}

func (s *GormWalletStore) CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, balanceDelta, lockedDelta decimal.Decimal) error {
	// The balance floor is re-checked inside the guarded UPDATE so a racing
	// writer cannot slip the wallet below its locked amount.
	res := s.db.WithContext(ctx).Exec(`
		UPDATE wallets
		SET balance = balance + ?, locked = locked + ?, version = version + 1, updated_at = NOW()
		WHERE user_id = ? AND version = ?
		  AND balance + ? >= 0 AND locked + ? >= 0 AND balance + ? >= locked + ?`,
		balanceDelta, lockedDelta, userID, expectedVersion,
		balanceDelta, lockedDelta, balanceDelta, lockedDelta)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a lost race from an uncoverable delta
		var w Wallet
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if w.Version != expectedVersion {
			return ErrConcurrentModification
		}
		return ErrInsufficientBalance
	}
	return nil
}

// GormPositionStore persists positions through gorm.
type GormPositionStore struct {
	db *gorm.DB
}

func NewGormPositionStore(db *gorm.DB) *GormPositionStore {
	return &GormPositionStore{db: db}
}

func (s *GormPositionStore) Position(ctx context.Context, userID, marketID string, outcome protocol.Outcome) (*Position, error) {
	var p Position
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Position{UserID: userID, MarketID: marketID, Outcome: outcome}, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormPositionStore) Apply(ctx context.Context, userID, marketID string, outcome protocol.Outcome, quantityDelta int64) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE positions
		SET quantity = quantity + ?, updated_at = NOW()
		WHERE user_id = ? AND market_id = ? AND outcome = ?`,
		quantityDelta, userID, marketID, outcome)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.WithContext(ctx).Create(&Position{
			ID:       uuid.New(),
			UserID:   userID,
			MarketID: marketID,
			Outcome:  outcome,
			Quantity: quantityDelta,
		}).Error
	}
	return nil
}

func (s *GormPositionStore) ByMarket(ctx context.Context, marketID string) ([]Position, error) {
	var out []Position
	err := s.db.WithContext(ctx).Where("market_id = ?", marketID).Find(&out).Error
	return out, err
}

// GormEscrowStore persists escrow idempotency entries through gorm.
type GormEscrowStore struct {
	db *gorm.DB
}

func NewGormEscrowStore(db *gorm.DB) *GormEscrowStore {
	return &GormEscrowStore{db: db}
}

func (s *GormEscrowStore) ByKey(ctx context.Context, idempotencyKey string) (*EscrowEntry, error) {
	var e EscrowEntry
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *GormEscrowStore) Record(ctx context.Context, entry *EscrowEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(entry).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEntry
	}
	return err
}

func (s *GormEscrowStore) Remove(ctx context.Context, idempotencyKey string) error {
	return s.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		Delete(&EscrowEntry{}).Error
}

// GormSettlementStore persists settlement batches through gorm.
type GormSettlementStore struct {
	db *gorm.DB
}

func NewGormSettlementStore(db *gorm.DB) *GormSettlementStore {
	return &GormSettlementStore{db: db}
}

func (s *GormSettlementStore) BatchByMarket(ctx context.Context, marketID string) (*SettlementBatch, error) {
	var b SettlementBatch
	err := s.db.WithContext(ctx).Where("market_id = ?", marketID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *GormSettlementStore) CreateBatch(ctx context.Context, batch *SettlementBatch, claims []SettlementClaim) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for i := range claims {
			if claims[i].ID == uuid.Nil {
				claims[i].ID = uuid.New()
			}
			claims[i].BatchID = batch.ID
		}
		if len(claims) == 0 {
			return nil
		}
		return tx.Create(&claims).Error
	})
}

func (s *GormSettlementStore) Claims(ctx context.Context, batchID uuid.UUID) ([]SettlementClaim, error) {
	var out []SettlementClaim
	err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Find(&out).Error
	return out, err
}

func (s *GormSettlementStore) MarkClaimApplied(ctx context.Context, claimID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&SettlementClaim{}).
		Where("id = ?", claimID).Update("applied", true).Error
}

func (s *GormSettlementStore) MarkBatchApplied(ctx context.Context, batchID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&SettlementBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{"status": BatchStatusApplied, "applied_at": gorm.Expr("NOW()")}).Error
}
