package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictx/matching-core/protocol"
)

// MemoryWalletStore is an in-process WalletStore, useful for tests and
// single-node deployments. It honors the same version semantics as the
// database-backed store.
type MemoryWalletStore struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
}

func NewMemoryWalletStore() *MemoryWalletStore {
	return &MemoryWalletStore{wallets: make(map[string]*Wallet)}
}

func (s *MemoryWalletStore) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cpy := *w
	return &cpy, nil
}

func (s *MemoryWalletStore) Create(ctx context.Context, wallet *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	if wallet.Version == 0 {
		wallet.Version = 1
	}
	now := time.Now().UTC()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now

	cpy := *wallet
	s.wallets[wallet.UserID] = &cpy
	return nil
}

func (s *MemoryWalletStore) CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, balanceDelta, lockedDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Version != expectedVersion {
		return ErrConcurrentModification
	}

	newBalance := w.Balance.Add(balanceDelta)
	newLocked := w.Locked.Add(lockedDelta)
	if newBalance.IsNegative() || newLocked.IsNegative() || newBalance.LessThan(newLocked) {
		return ErrInsufficientBalance
	}

	w.Balance = newBalance
	w.Locked = newLocked
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryPositionStore is an in-process PositionStore.
type MemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]*Position
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]*Position)}
}

func positionKey(userID, marketID string, outcome protocol.Outcome) string {
	return userID + "|" + marketID + "|" + outcome.String()
}

func (s *MemoryPositionStore) Position(ctx context.Context, userID, marketID string, outcome protocol.Outcome) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionKey(userID, marketID, outcome)]
	if !ok {
		return &Position{UserID: userID, MarketID: marketID, Outcome: outcome}, nil
	}
	cpy := *p
	return &cpy, nil
}

func (s *MemoryPositionStore) Apply(ctx context.Context, userID, marketID string, outcome protocol.Outcome, quantityDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(userID, marketID, outcome)
	p, ok := s.positions[key]
	if !ok {
		p = &Position{
			ID:        uuid.New(),
			UserID:    userID,
			MarketID:  marketID,
			Outcome:   outcome,
			CreatedAt: time.Now().UTC(),
		}
		s.positions[key] = p
	}
	p.Quantity += quantityDelta
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryPositionStore) ByMarket(ctx context.Context, marketID string) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Position, 0)
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// MemoryEscrowStore is an in-process EscrowStore.
type MemoryEscrowStore struct {
	mu      sync.Mutex
	entries map[string]*EscrowEntry
}

func NewMemoryEscrowStore() *MemoryEscrowStore {
	return &MemoryEscrowStore{entries: make(map[string]*EscrowEntry)}
}

func (s *MemoryEscrowStore) ByKey(ctx context.Context, idempotencyKey string) (*EscrowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[idempotencyKey]
	if !ok {
		return nil, nil
	}
	cpy := *e
	return &cpy, nil
}

func (s *MemoryEscrowStore) Record(ctx context.Context, entry *EscrowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.IdempotencyKey]; ok {
		return ErrDuplicateEntry
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	cpy := *entry
	s.entries[entry.IdempotencyKey] = &cpy
	return nil
}

func (s *MemoryEscrowStore) Remove(ctx context.Context, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, idempotencyKey)
	return nil
}

// MemorySettlementStore is an in-process SettlementStore.
type MemorySettlementStore struct {
	mu      sync.Mutex
	batches map[string]*SettlementBatch
	claims  map[uuid.UUID][]SettlementClaim
}

func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{
		batches: make(map[string]*SettlementBatch),
		claims:  make(map[uuid.UUID][]SettlementClaim),
	}
}

func (s *MemorySettlementStore) BatchByMarket(ctx context.Context, marketID string) (*SettlementBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[marketID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cpy := *b
	return &cpy, nil
}

func (s *MemorySettlementStore) CreateBatch(ctx context.Context, batch *SettlementBatch, claims []SettlementClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.CreatedAt = time.Now().UTC()

	cpy := *batch
	s.batches[batch.MarketID] = &cpy

	stored := make([]SettlementClaim, len(claims))
	copy(stored, claims)
	for i := range stored {
		if stored[i].ID == uuid.Nil {
			stored[i].ID = uuid.New()
		}
		stored[i].BatchID = batch.ID
	}
	s.claims[batch.ID] = stored
	return nil
}

func (s *MemorySettlementStore) Claims(ctx context.Context, batchID uuid.UUID) ([]SettlementClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SettlementClaim, len(s.claims[batchID]))
	copy(out, s.claims[batchID])
	return out, nil
}

func (s *MemorySettlementStore) MarkClaimApplied(ctx context.Context, claimID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, claims := range s.claims {
		for i := range claims {
			if claims[i].ID == claimID {
				claims[i].Applied = true
				return nil
			}
		}
	}
	return ErrBatchNotFound
}

func (s *MemorySettlementStore) MarkBatchApplied(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, b := range s.batches {
		if b.ID == batchID {
			b.Status = BatchStatusApplied
			b.AppliedAt = &now
			return nil
		}
	}
	return ErrBatchNotFound
}
