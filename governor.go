package match

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/predictx/matching-core/protocol"
	"github.com/predictx/matching-core/store"
)

// GovernorConfig tunes the tick governor.
type GovernorConfig struct {
	// Window is the rolling trade window volatility is computed over.
	Window time.Duration
	// Notice is the lead time between scheduling a tick change and it
	// taking effect.
	Notice time.Duration
	// EmergencyRatio widens the tick immediately when a volatility sample
	// reaches this multiple of the previous sample.
	EmergencyRatio float64
	// Cadence is the minimum interval between cycles per market. Zero
	// runs a cycle on every invocation.
	Cadence time.Duration
}

// DefaultGovernorConfig mirrors the venue's production settings: 24h
// window, 24h notice, emergency at 3x the previous sample.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		Window:         24 * time.Hour,
		Notice:         24 * time.Hour,
		EmergencyRatio: 3.0,
	}
}

type tradePoint struct {
	price int64
	at    time.Time
}

// Governor adapts each market's tick size to realized volatility. It sits
// off the matching path: fills stream in through Observe, and RunCycle is
// invoked periodically (hourly in production). Tick writes reach the book
// through an atomic the accept path re-reads, so an in-flight match never
// sees a torn tick.
type Governor struct {
	cfg     GovernorConfig
	markets store.MarketStore

	mu        sync.Mutex
	windows   map[string][]tradePoint
	lastCycle map[string]time.Time
}

func NewGovernor(cfg GovernorConfig, markets store.MarketStore) *Governor {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Notice <= 0 {
		cfg.Notice = 24 * time.Hour
	}
	if cfg.EmergencyRatio <= 1 {
		cfg.EmergencyRatio = 3.0
	}
	return &Governor{
		cfg:       cfg,
		markets:   markets,
		windows:   make(map[string][]tradePoint),
		lastCycle: make(map[string]time.Time),
	}
}

// Observe feeds a fill's price into the market's rolling window.
func (g *Governor) Observe(marketID string, price int64, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	window := append(g.windows[marketID], tradePoint{price: price, at: at})
	g.windows[marketID] = trimWindow(window, at.Add(-g.cfg.Window))
}

func trimWindow(window []tradePoint, cutoff time.Time) []tradePoint {
	i := 0
	for i < len(window) && window[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// RealizedVolatility computes the standard deviation of log returns over
// the market's current window. Returns zero with fewer than three trades.
// Float math is fine here: volatility only steers tick sizing and never
// touches order prices.
func (g *Governor) RealizedVolatility(marketID string) float64 {
	g.mu.Lock()
	window := g.windows[marketID]
	points := make([]tradePoint, len(window))
	copy(points, window)
	g.mu.Unlock()

	return realizedVolatility(points)
}

func realizedVolatility(points []tradePoint) float64 {
	if len(points) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		if points[i-1].price <= 0 || points[i].price <= 0 {
			continue
		}
		returns = append(returns, math.Log(float64(points[i].price)/float64(points[i-1].price)))
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

// suggestTick maps volatility onto a tick size via a monotone step
// function, before clamping to the market's bounds.
func suggestTick(vol float64, minTick, maxTick int64) int64 {
	var tick int64
	switch {
	case vol < 0.01:
		tick = minTick
	case vol < 0.05:
		tick = minTick * 5
	case vol < 0.10:
		tick = minTick * 10
	case vol < 0.20:
		tick = minTick * 50
	default:
		tick = maxTick
	}

	return clampTick(tick, minTick, maxTick)
}

func clampTick(tick, minTick, maxTick int64) int64 {
	if tick < minTick {
		return minTick
	}
	if tick > maxTick {
		return maxTick
	}
	return tick
}

// RunCycle recomputes volatility for one market and advances its tick
// schedule. Outcomes: no-op, schedule a change with notice, apply a
// matured pending change, or widen immediately on an emergency spike.
// The new tick is pushed into the live book and persisted.
func (g *Governor) RunCycle(ctx context.Context, book *Book, now time.Time) error {
	if !g.cycleDue(book.marketID, now) {
		return nil
	}

	market, err := g.markets.Market(ctx, book.marketID)
	if err != nil {
		return err
	}
	if market.Status != protocol.MarketActive {
		return nil
	}

	vol := g.RealizedVolatility(book.marketID)
	prevVol := market.LastVolatility
	suggested := suggestTick(vol, market.MinTick, market.MaxTick)
	current := market.TickSize

	switch {
	case prevVol > 0 && vol >= g.cfg.EmergencyRatio*prevVol:
		// Emergency widening bypasses the notice period and cancels any
		// pending scheduled change.
		widened := clampTick(current*2, market.MinTick, market.MaxTick)
		if suggested > widened {
			widened = suggested
		}
		market.TickSize = widened
		market.PendingTick = nil
		market.PendingApplyAt = nil
		logger.Warn("emergency tick widening",
			"market_id", market.ID,
			"volatility", vol,
			"previous_volatility", prevVol,
			"tick", widened)

	case market.PendingTick != nil && market.PendingApplyAt != nil && !now.Before(*market.PendingApplyAt):
		market.TickSize = clampTick(*market.PendingTick, market.MinTick, market.MaxTick)
		market.PendingTick = nil
		market.PendingApplyAt = nil
		logger.Info("applied scheduled tick change",
			"market_id", market.ID,
			"tick", market.TickSize)

	case market.PendingTick == nil && suggested != current:
		applyAt := now.Add(g.cfg.Notice)
		market.PendingTick = &suggested
		market.PendingApplyAt = &applyAt
		logger.Info("scheduled tick change",
			"market_id", market.ID,
			"current_tick", current,
			"new_tick", suggested,
			"apply_at", applyAt)
	}

	market.LastVolatility = vol
	if err := g.markets.UpdateTick(ctx, market); err != nil {
		return err
	}

	book.SetTick(market.TickSize)
	return nil
}

// cycleDue enforces the configured cadence per market.
func (g *Governor) cycleDue(marketID string, now time.Time) bool {
	if g.cfg.Cadence <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastCycle[marketID]; ok && now.Sub(last) < g.cfg.Cadence {
		return false
	}
	g.lastCycle[marketID] = now
	return true
}

// governorFeed routes match events from the publish stream into the
// governor's windows. It satisfies PublishLog so it can be fanned out
// alongside other publishers.
type governorFeed struct {
	governor *Governor
}

// NewGovernorFeed wraps a governor as a PublishLog sink.
func NewGovernorFeed(g *Governor) PublishLog {
	return &governorFeed{governor: g}
}

func (f *governorFeed) Publish(logs ...*BookLog) {
	for _, log := range logs {
		if log.Type == LogTypeMatch {
			f.governor.Observe(log.MarketID, log.Price, log.CreatedAt)
		}
	}
}

// FanoutPublishLog forwards every log to each sink in order.
type FanoutPublishLog struct {
	sinks []PublishLog
}

func NewFanoutPublishLog(sinks ...PublishLog) *FanoutPublishLog {
	return &FanoutPublishLog{sinks: sinks}
}

func (f *FanoutPublishLog) Publish(logs ...*BookLog) {
	for _, sink := range f.sinks {
		sink.Publish(logs...)
	}
}
