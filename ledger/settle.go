package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictx/matching-core/protocol"
)

// OpenLock names collateral still escrowed for a resting order when its
// market resolves. Settlement releases it back to the owner.
type OpenLock struct {
	UserID string
	Amount decimal.Decimal
}

// Settlement pays out winning positions and releases leftover escrow when
// a market resolves. A market settles exactly once; the batch record makes
// re-invocations idempotent and a half-applied batch resumable.
type Settlement struct {
	store  SettlementStore
	escrow *Escrow
}

func NewSettlement(store SettlementStore, escrow *Escrow) *Settlement {
	return &Settlement{store: store, escrow: escrow}
}

// Settle computes and applies the settlement batch for a resolved market.
// Each share of the winning outcome pays one collateral unit. openLocks is
// the escrow of orders still resting when the market resolved; it returns
// to the owners inside the same batch.
//
// Calling Settle again after the batch applied returns the stored result
// with Replayed set. A batch found in the computed state resumes applying
// only the claims that have not reached a wallet yet.
func (s *Settlement) Settle(ctx context.Context, marketID string, winning protocol.Outcome, positions []Position, openLocks []OpenLock) (*BatchResult, error) {
	batch, err := s.store.BatchByMarket(ctx, marketID)
	if err != nil && !errors.Is(err, ErrBatchNotFound) {
		return nil, err
	}

	if batch != nil {
		if batch.Status == BatchStatusApplied {
			return &BatchResult{
				MarketID:       batch.MarketID,
				WinningOutcome: batch.WinningOutcome,
				TotalPayout:    batch.TotalPayout,
				ClaimCount:     batch.ClaimCount,
				Replayed:       true,
			}, nil
		}
		// Resume a half-applied batch
		return s.apply(ctx, batch)
	}

	batch, claims := computeBatch(marketID, winning, positions, openLocks)
	if err := s.store.CreateBatch(ctx, batch, claims); err != nil {
		return nil, err
	}

	return s.apply(ctx, batch)
}

// computeBatch folds positions and open locks into one claim per user.
func computeBatch(marketID string, winning protocol.Outcome, positions []Position, openLocks []OpenLock) (*SettlementBatch, []SettlementClaim) {
	unit := decimal.New(1, 0)

	payouts := make(map[string]decimal.Decimal)
	released := make(map[string]decimal.Decimal)
	order := make([]string, 0, len(positions)+len(openLocks))

	seen := func(userID string) {
		if _, ok := payouts[userID]; !ok {
			if _, ok := released[userID]; !ok {
				order = append(order, userID)
			}
		}
	}

	for _, p := range positions {
		if p.Outcome != winning || p.Quantity <= 0 {
			continue
		}
		seen(p.UserID)
		payouts[p.UserID] = payouts[p.UserID].Add(unit.Mul(decimal.NewFromInt(p.Quantity)))
	}

	for _, lock := range openLocks {
		if lock.Amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		seen(lock.UserID)
		released[lock.UserID] = released[lock.UserID].Add(lock.Amount)
	}

	batch := &SettlementBatch{
		MarketID:       marketID,
		WinningOutcome: winning,
		Status:         BatchStatusComputed,
	}

	claims := make([]SettlementClaim, 0, len(order))
	total := decimal.Zero
	for _, userID := range order {
		claim := SettlementClaim{
			UserID:   userID,
			Payout:   payouts[userID],
			Released: released[userID],
		}
		total = total.Add(claim.Payout)
		claims = append(claims, claim)
	}

	batch.TotalPayout = total
	batch.ClaimCount = int64(len(claims))
	return batch, claims
}

// apply pushes every unapplied claim into the wallets, then seals the batch.
func (s *Settlement) apply(ctx context.Context, batch *SettlementBatch) (*BatchResult, error) {
	claims, err := s.store.Claims(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	for i := range claims {
		if claims[i].Applied {
			continue
		}

		if claims[i].Payout.IsPositive() {
			if err := s.escrow.Credit(ctx, claims[i].UserID, claims[i].Payout); err != nil {
				return nil, err
			}
		}
		if claims[i].Released.IsPositive() {
			if err := s.escrow.Release(ctx, claims[i].UserID, claims[i].Released); err != nil {
				return nil, err
			}
		}

		if err := s.store.MarkClaimApplied(ctx, claims[i].ID); err != nil {
			return nil, err
		}
	}

	if err := s.store.MarkBatchApplied(ctx, batch.ID); err != nil {
		return nil, err
	}

	return &BatchResult{
		MarketID:       batch.MarketID,
		WinningOutcome: batch.WinningOutcome,
		TotalPayout:    batch.TotalPayout,
		ClaimCount:     batch.ClaimCount,
	}, nil
}
