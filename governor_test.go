package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictx/matching-core/protocol"
	"github.com/predictx/matching-core/store"
)

func createGovernorFixture(t *testing.T, tick int64) (*Governor, *Book, *store.MemoryMarketStore) {
	t.Helper()

	markets := store.NewMemoryMarketStore()
	err := markets.Create(context.Background(), &store.Market{
		ID:       "mkt-rain",
		Status:   protocol.MarketActive,
		TickSize: tick,
		MinTick:  1_000,
		MaxTick:  100_000,
	})
	require.NoError(t, err)

	governor := NewGovernor(DefaultGovernorConfig(), markets)

	book := NewBook("mkt-rain", tick, 256, NewDiscardPublishLog())
	go func() {
		_ = book.Start()
	}()
	t.Cleanup(func() {
		_ = book.Shutdown(context.Background())
	})

	return governor, book, markets
}

func feedTrades(g *Governor, marketID string, base time.Time, prices ...int64) {
	for i, p := range prices {
		g.Observe(marketID, p, base.Add(time.Duration(i)*time.Minute))
	}
}

func TestRealizedVolatility(t *testing.T) {
	g, _, _ := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	// Flat prices have zero volatility
	feedTrades(g, "mkt-rain", base, 500_000, 500_000, 500_000, 500_000)
	assert.Equal(t, 0.0, g.RealizedVolatility("mkt-rain"))

	// A swinging series does not
	feedTrades(g, "mkt-swing", base, 400_000, 600_000, 350_000, 650_000)
	assert.Greater(t, g.RealizedVolatility("mkt-swing"), 0.0)

	// Fewer than three trades yields no sample
	feedTrades(g, "mkt-thin", base, 500_000, 510_000)
	assert.Equal(t, 0.0, g.RealizedVolatility("mkt-thin"))
}

func TestWindowTrimsOldTrades(t *testing.T) {
	g, _, _ := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	g.Observe("mkt-rain", 400_000, base.Add(-30*time.Hour))
	g.Observe("mkt-rain", 600_000, base.Add(-28*time.Hour))
	g.Observe("mkt-rain", 500_000, base)
	g.Observe("mkt-rain", 500_000, base.Add(time.Minute))
	g.Observe("mkt-rain", 500_000, base.Add(2*time.Minute))

	// Only the flat in-window trades remain
	assert.Equal(t, 0.0, g.RealizedVolatility("mkt-rain"))
}

func TestSuggestTickClamped(t *testing.T) {
	assert.Equal(t, int64(1_000), suggestTick(0.001, 1_000, 100_000))
	assert.Equal(t, int64(5_000), suggestTick(0.02, 1_000, 100_000))
	assert.Equal(t, int64(10_000), suggestTick(0.07, 1_000, 100_000))
	assert.Equal(t, int64(50_000), suggestTick(0.15, 1_000, 100_000))
	assert.Equal(t, int64(100_000), suggestTick(0.5, 1_000, 100_000))

	// Clamping respects tight bounds
	assert.Equal(t, int64(20_000), suggestTick(0.5, 5_000, 20_000))
	assert.Equal(t, int64(5_000), suggestTick(0.0, 5_000, 20_000))
}

func TestGovernorSchedulesWithNotice(t *testing.T) {
	g, book, markets := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	feedTrades(g, "mkt-rain", base, 400_000, 600_000, 350_000, 650_000, 300_000)

	require.NoError(t, g.RunCycle(context.Background(), book, base))

	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)

	// The change is scheduled, not applied
	assert.Equal(t, int64(1_000), market.TickSize)
	require.NotNil(t, market.PendingTick)
	assert.Greater(t, *market.PendingTick, int64(1_000))
	require.NotNil(t, market.PendingApplyAt)
	assert.Equal(t, base.Add(24*time.Hour), *market.PendingApplyAt)
	assert.Equal(t, int64(1_000), book.Tick())
}

func TestGovernorAppliesMaturedPending(t *testing.T) {
	g, book, markets := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	pending := int64(10_000)
	applyAt := base.Add(-time.Minute)
	market.PendingTick = &pending
	market.PendingApplyAt = &applyAt
	require.NoError(t, markets.Update(context.Background(), market))

	require.NoError(t, g.RunCycle(context.Background(), book, base))

	market, err = markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), market.TickSize)
	assert.Nil(t, market.PendingTick)
	assert.Nil(t, market.PendingApplyAt)
	assert.Equal(t, int64(10_000), book.Tick())
}

func TestGovernorPendingNotAppliedEarly(t *testing.T) {
	g, book, markets := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	pending := int64(10_000)
	applyAt := base.Add(time.Hour)
	market.PendingTick = &pending
	market.PendingApplyAt = &applyAt
	require.NoError(t, markets.Update(context.Background(), market))

	require.NoError(t, g.RunCycle(context.Background(), book, base))

	market, err = markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), market.TickSize)
	require.NotNil(t, market.PendingTick)
}

func TestGovernorEmergencyWidening(t *testing.T) {
	g, book, markets := createGovernorFixture(t, 2_000)
	base := time.Now().UTC()

	// Seed a calm previous sample with a pending change in flight
	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	market.LastVolatility = 0.01
	pending := int64(4_000)
	applyAt := base.Add(time.Hour)
	market.PendingTick = &pending
	market.PendingApplyAt = &applyAt
	require.NoError(t, markets.Update(context.Background(), market))

	// A violent swing pushes volatility far past 3x the previous sample
	feedTrades(g, "mkt-rain", base, 200_000, 800_000, 150_000, 850_000, 100_000)

	require.NoError(t, g.RunCycle(context.Background(), book, base))

	market, err = markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)

	// At least doubled, pending change cancelled, live book updated now
	assert.GreaterOrEqual(t, market.TickSize, int64(4_000))
	assert.Nil(t, market.PendingTick)
	assert.Nil(t, market.PendingApplyAt)
	assert.Equal(t, market.TickSize, book.Tick())
	assert.LessOrEqual(t, market.TickSize, market.MaxTick)
}

func TestGovernorSkipsResolvedMarket(t *testing.T) {
	g, book, markets := createGovernorFixture(t, 1_000)
	base := time.Now().UTC()

	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	winning := protocol.OutcomeYes
	market.Status = protocol.MarketResolved
	market.WinningOutcome = &winning
	require.NoError(t, markets.Update(context.Background(), market))

	feedTrades(g, "mkt-rain", base, 400_000, 600_000, 350_000, 650_000, 300_000)

	require.NoError(t, g.RunCycle(context.Background(), book, base))

	// A resolved market's record and book are left alone
	after, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	assert.Equal(t, protocol.MarketResolved, after.Status)
	require.NotNil(t, after.WinningOutcome)
	assert.Equal(t, protocol.OutcomeYes, *after.WinningOutcome)
	assert.Equal(t, int64(1_000), after.TickSize)
	assert.Nil(t, after.PendingTick)
	assert.Equal(t, int64(1_000), book.Tick())
}

func TestGovernorCadenceGatesCycles(t *testing.T) {
	markets := store.NewMemoryMarketStore()
	require.NoError(t, markets.Create(context.Background(), &store.Market{
		ID:       "mkt-rain",
		Status:   protocol.MarketActive,
		TickSize: 1_000,
		MinTick:  1_000,
		MaxTick:  100_000,
	}))

	cfg := DefaultGovernorConfig()
	cfg.Cadence = time.Hour
	g := NewGovernor(cfg, markets)

	book := NewBook("mkt-rain", 1_000, 256, NewDiscardPublishLog())
	go func() {
		_ = book.Start()
	}()
	t.Cleanup(func() {
		_ = book.Shutdown(context.Background())
	})

	base := time.Now().UTC()
	require.NoError(t, g.RunCycle(context.Background(), book, base))

	// Volatile trades arrive, but the next cycle is not due yet
	feedTrades(g, "mkt-rain", base, 400_000, 600_000, 350_000, 650_000, 300_000)
	require.NoError(t, g.RunCycle(context.Background(), book, base.Add(30*time.Minute)))

	market, err := markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	assert.Nil(t, market.PendingTick)

	// Past the cadence the cycle runs and schedules the change
	require.NoError(t, g.RunCycle(context.Background(), book, base.Add(2*time.Hour)))

	market, err = markets.Market(context.Background(), "mkt-rain")
	require.NoError(t, err)
	require.NotNil(t, market.PendingTick)
	assert.Greater(t, *market.PendingTick, int64(1_000))
}
