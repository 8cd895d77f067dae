package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictx/matching-core/protocol"
)

func createEscrowFixture(t *testing.T, balances map[string]int64) (*Escrow, *MemoryWalletStore, *MemoryPositionStore) {
	t.Helper()

	ctx := context.Background()
	wallets := NewMemoryWalletStore()
	for user, balance := range balances {
		err := wallets.Create(ctx, &Wallet{UserID: user, Balance: decimal.NewFromInt(balance)})
		require.NoError(t, err)
	}

	positions := NewMemoryPositionStore()
	return NewEscrow(wallets, positions, NewMemoryEscrowStore()), wallets, positions
}

func TestLockAndUnlock(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"alice": 100})

	_, err := escrow.Lock(ctx, "alice", "ord-1", "", 60_000_000)
	require.NoError(t, err)

	w, err := wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.Equal(decimal.NewFromInt(60)))

	// Locked funds are not available for a second lock beyond the free rest
	_, err = escrow.Lock(ctx, "alice", "ord-2", "", 50_000_000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, escrow.Unlock(ctx, "alice", 60_000_000))

	w, err = wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.IsZero())
}

func TestLockIdempotency(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"alice": 100})

	first, err := escrow.Lock(ctx, "alice", "ord-1", "key-1", 40_000_000)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := escrow.Lock(ctx, "alice", "ord-1", "key-1", 40_000_000)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, "ord-1", second.OrderID)

	w, err := wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.Equal(decimal.NewFromInt(40)), "locked = %s", w.Locked)
}

func TestUnknownWallet(t *testing.T) {
	ctx := context.Background()
	escrow, _, _ := createEscrowFixture(t, nil)

	_, err := escrow.Lock(ctx, "ghost", "ord-1", "", 1_000_000)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestApplyFillMovesFundsAndPositions(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, positions := createEscrowFixture(t, map[string]int64{"buyer": 100, "seller": 100})

	_, err := escrow.Lock(ctx, "buyer", "ord-b", "", 51_000_000)
	require.NoError(t, err)

	err = escrow.ApplyFill(ctx, &protocol.Fill{
		MarketID:    "mkt-rain",
		Outcome:     protocol.OutcomeYes,
		TakerSide:   protocol.SideBuy,
		Price:       510_000,
		Quantity:    100,
		TakerUserID: "buyer",
		MakerUserID: "seller",
	})
	require.NoError(t, err)

	buyer, err := wallets.Wallet(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyer.Balance.Equal(decimal.NewFromInt(49)))
	assert.True(t, buyer.Locked.IsZero())

	seller, err := wallets.Wallet(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, seller.Balance.Equal(decimal.NewFromInt(151)))

	bp, err := positions.Position(ctx, "buyer", "mkt-rain", protocol.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bp.Quantity)

	sp, err := positions.Position(ctx, "seller", "mkt-rain", protocol.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), sp.Quantity)
}

func TestApplyFillSellTaker(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"buyer": 100, "seller": 100})

	// The maker is the buyer when the taker sells
	_, err := escrow.Lock(ctx, "buyer", "ord-b", "", 30_000_000)
	require.NoError(t, err)

	err = escrow.ApplyFill(ctx, &protocol.Fill{
		MarketID:    "mkt-rain",
		Outcome:     protocol.OutcomeNo,
		TakerSide:   protocol.SideSell,
		Price:       300_000,
		Quantity:    100,
		TakerUserID: "seller",
		MakerUserID: "buyer",
	})
	require.NoError(t, err)

	buyer, err := wallets.Wallet(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyer.Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, buyer.Locked.IsZero())

	seller, err := wallets.Wallet(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, seller.Balance.Equal(decimal.NewFromInt(130)))
}

func TestConcurrentLocksRespectBalance(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"whale": 500})

	// 20 concurrent locks of 50 units race for a 500-unit wallet;
	// exactly 10 can win
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, denied := 0, 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := escrow.Lock(ctx, "whale", "", "", 50_000_000)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientBalance)
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, 10, denied)

	w, err := wallets.Wallet(ctx, "whale")
	require.NoError(t, err)
	assert.True(t, w.Locked.Equal(decimal.NewFromInt(500)), "locked = %s", w.Locked)
}

func TestConcurrentSameKeyLocksOnce(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"alice": 1000})

	const racers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh, replayed := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := escrow.Lock(ctx, "alice", "ord-1", "same-key", 49_000_000)

			mu.Lock()
			defer mu.Unlock()
			if !assert.NoError(t, err) {
				return
			}
			if res.Replayed {
				replayed++
			} else {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, racers-1, replayed)

	// The key reserved exactly one lock no matter how the race landed
	w, err := wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.Equal(decimal.NewFromInt(49)), "locked = %s", w.Locked)
}

func TestFailedLockFreesReservation(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"alice": 10})

	_, err := escrow.Lock(ctx, "alice", "ord-1", "key-1", 60_000_000)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// The key is free again, so an affordable retry runs fresh
	res, err := escrow.Lock(ctx, "alice", "ord-2", "key-1", 5_000_000)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "ord-2", res.OrderID)

	w, err := wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.Equal(decimal.NewFromInt(5)), "locked = %s", w.Locked)
}

func TestZeroAmountLockReservesKeyOnly(t *testing.T) {
	ctx := context.Background()
	escrow, wallets, _ := createEscrowFixture(t, map[string]int64{"alice": 100})

	first, err := escrow.Lock(ctx, "alice", "ord-1", "sell-key", 0)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := escrow.Lock(ctx, "alice", "ord-2", "sell-key", 0)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, "ord-1", second.OrderID)

	w, err := wallets.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Locked.IsZero())

	// Discard frees the key for a fresh run
	require.NoError(t, escrow.Discard(ctx, "sell-key"))
	third, err := escrow.Lock(ctx, "alice", "ord-3", "sell-key", 0)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
}
