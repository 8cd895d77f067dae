package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/predictx/matching-core/cachestore"
	"github.com/predictx/matching-core/config"
	"github.com/predictx/matching-core/ledger"
	"github.com/predictx/matching-core/protocol"
	"github.com/predictx/matching-core/store"
)

// VenueOptions wires a venue's collaborators. Stores default to their
// in-memory implementations when nil, which is the test configuration.
type VenueOptions struct {
	Markets    store.MarketStore
	Orders     store.OrderStore
	Wallets    ledger.WalletStore
	Positions  ledger.PositionStore
	Escrows    ledger.EscrowStore
	Settlement ledger.SettlementStore
	Cache      cachestore.Store
	Publish    PublishLog
	Serializer protocol.Serializer

	ArenaCapacity int32
	MaxDepth      int
	CacheTTL      time.Duration
	Governor      GovernorConfig

	// Tick bounds applied when CreateMarket is called with zeros.
	DefaultTick int64
	MinTick     int64
	MaxTick     int64
}

// OptionsFromConfig maps loaded configuration onto venue options. Stores
// and sinks stay nil so the caller can attach the implementations that
// match the deployment.
func OptionsFromConfig(cfg *config.Config) VenueOptions {
	governor := DefaultGovernorConfig()
	if cfg.GovernorNotice > 0 {
		governor.Notice = cfg.GovernorNotice
	}
	if cfg.EmergencyVolRatio > 0 {
		governor.EmergencyRatio = cfg.EmergencyVolRatio
	}

	governor.Cadence = cfg.GovernorCadence

	return VenueOptions{
		ArenaCapacity: cfg.ArenaCapacity,
		MaxDepth:      cfg.MaxDepth,
		CacheTTL:      cfg.CacheTTL,
		Governor:      governor,
		DefaultTick:   cfg.DefaultTick,
		MinTick:       cfg.MinTick,
		MaxTick:       cfg.MaxTick,
	}
}

// NewVenueFromConfig builds a venue with the stores the configuration
// names: gorm over postgres when a DSN is set, redis when an address is
// set, memory otherwise.
func NewVenueFromConfig(cfg *config.Config) (*Venue, error) {
	opts := OptionsFromConfig(cfg)

	if cfg.PostgresDSN != "" {
		db, err := store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(db); err != nil {
			return nil, err
		}
		if err := ledger.Migrate(db); err != nil {
			return nil, err
		}
		opts.Markets = store.NewGormMarketStore(db)
		opts.Orders = store.NewGormOrderStore(db)
		opts.Wallets = ledger.NewGormWalletStore(db)
		opts.Positions = ledger.NewGormPositionStore(db)
		opts.Escrows = ledger.NewGormEscrowStore(db)
		opts.Settlement = ledger.NewGormSettlementStore(db)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RedisAddr},
		})
		opts.Cache = cachestore.NewRedisStore(client)
	}

	return NewVenue(opts), nil
}

// Venue manages the books, ledger and caches of all markets. One book
// goroutine per market serializes matching; everything else is safe for
// concurrent use.
type Venue struct {
	isShutdown atomic.Bool
	books      sync.Map // marketID -> *Book

	markets    store.MarketStore
	orders     store.OrderStore
	escrow     *ledger.Escrow
	positions  ledger.PositionStore
	settlement *ledger.Settlement
	cache      cachestore.Store
	publish    PublishLog
	serializer protocol.Serializer
	governor   *Governor

	arenaCapacity int32
	maxDepth      int
	cacheTTL      time.Duration
	defaultTick   int64
	minTick       int64
	maxTick       int64
}

// NewVenue creates a venue from the provided options.
func NewVenue(opts VenueOptions) *Venue {
	if opts.Markets == nil {
		opts.Markets = store.NewMemoryMarketStore()
	}
	if opts.Orders == nil {
		opts.Orders = store.NewMemoryOrderStore()
	}
	if opts.Wallets == nil {
		opts.Wallets = ledger.NewMemoryWalletStore()
	}
	if opts.Positions == nil {
		opts.Positions = ledger.NewMemoryPositionStore()
	}
	if opts.Escrows == nil {
		opts.Escrows = ledger.NewMemoryEscrowStore()
	}
	if opts.Settlement == nil {
		opts.Settlement = ledger.NewMemorySettlementStore()
	}
	if opts.Cache == nil {
		opts.Cache = cachestore.NewMemoryStore()
	}
	if opts.Publish == nil {
		opts.Publish = NewDiscardPublishLog()
	}
	if opts.Serializer == nil {
		opts.Serializer = &protocol.JSONSerializer{}
	}
	if opts.ArenaCapacity <= 0 {
		opts.ArenaCapacity = DefaultArenaCapacity
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Second
	}
	if opts.Governor.Window <= 0 {
		opts.Governor = DefaultGovernorConfig()
	}

	escrow := ledger.NewEscrow(opts.Wallets, opts.Positions, opts.Escrows)
	governor := NewGovernor(opts.Governor, opts.Markets)

	return &Venue{
		markets:       opts.Markets,
		orders:        opts.Orders,
		escrow:        escrow,
		positions:     opts.Positions,
		settlement:    ledger.NewSettlement(opts.Settlement, escrow),
		cache:         opts.Cache,
		publish:       NewFanoutPublishLog(opts.Publish, NewGovernorFeed(governor)),
		serializer:    opts.Serializer,
		governor:      governor,
		arenaCapacity: opts.ArenaCapacity,
		maxDepth:      opts.MaxDepth,
		cacheTTL:      opts.CacheTTL,
		defaultTick:   opts.DefaultTick,
		minTick:       opts.MinTick,
		maxTick:       opts.MaxTick,
	}
}

// CreateMarket registers a market and starts its book. Zero tick bounds
// fall back to the venue's configured defaults.
func (v *Venue) CreateMarket(ctx context.Context, marketID, question string, tick, minTick, maxTick int64) error {
	if v.isShutdown.Load() {
		return ErrShutdown
	}
	if tick <= 0 {
		tick = v.defaultTick
	}
	if minTick <= 0 {
		minTick = v.minTick
	}
	if maxTick <= 0 {
		maxTick = v.maxTick
	}
	if len(marketID) == 0 || tick <= 0 || minTick <= 0 || maxTick < minTick || tick < minTick || tick > maxTick {
		return ErrInvalidParam
	}

	market := &store.Market{
		ID:       marketID,
		Question: question,
		Status:   protocol.MarketActive,
		TickSize: tick,
		MinTick:  minTick,
		MaxTick:  maxTick,
	}
	if err := v.markets.Create(ctx, market); err != nil {
		return err
	}

	v.startBook(NewBook(marketID, tick, v.arenaCapacity, v.publish))
	return nil
}

// Rehydrate rebuilds the books of every active market from the durable
// order store. Called once on venue start.
func (v *Venue) Rehydrate(ctx context.Context) error {
	markets, err := v.markets.ByStatus(ctx, protocol.MarketActive)
	if err != nil {
		return err
	}

	for i := range markets {
		market := &markets[i]
		rows, err := v.orders.OpenOrders(ctx, market.ID)
		if err != nil {
			return err
		}

		book, err := NewBookFromSnapshot(snapshotFromRows(market, rows), v.arenaCapacity, v.publish)
		if err != nil {
			return err
		}
		v.startBook(book)

		logger.Info("rehydrated market book",
			"market_id", market.ID,
			"open_orders", len(rows))
	}

	return nil
}

// snapshotFromRows reshapes durable open orders into snapshot form.
// OpenOrders returns rows in arrival order; insertion re-sorts by price
// via the queues, and arrival order breaks ties, so priority survives.
func snapshotFromRows(market *store.Market, rows []store.OrderRow) *protocol.BookSnapshot {
	snap := &protocol.BookSnapshot{
		MarketID: market.ID,
		Tick:     market.TickSize,
	}

	for _, row := range rows {
		order := protocol.BookOrder{
			ID:        row.ID,
			UserID:    row.UserID,
			Outcome:   row.Outcome,
			Side:      row.Side,
			Price:     row.Price,
			Quantity:  row.Quantity,
			Remaining: row.Remaining,
			Filled:    row.Quantity - row.Remaining,
			Seq:       row.Seq,
		}

		side := &snap.Yes
		if row.Outcome == protocol.OutcomeNo {
			side = &snap.No
		}
		if row.Side == protocol.SideBuy {
			side.Bids = append(side.Bids, order)
		} else {
			side.Asks = append(side.Asks, order)
		}
	}

	return snap
}

func (v *Venue) startBook(book *Book) {
	if _, loaded := v.books.LoadOrStore(book.marketID, book); loaded {
		return
	}
	go func() {
		if err := book.Start(); err != nil {
			logger.Error("book loop exited", "market_id", book.marketID, "error", err)
		}
	}()
}

func (v *Venue) book(marketID string) (*Book, error) {
	b, ok := v.books.Load(marketID)
	if !ok {
		return nil, ErrMarketNotActive
	}
	return b.(*Book), nil
}

// PlaceOrder validates, escrows and matches a new order.
//
// Buy orders lock price x quantity of collateral before touching the
// book; any reject unwinds the lock. Fills settle buyer-locked funds to
// the seller. A repeated idempotency key replays the stored order instead
// of re-executing.
func (v *Venue) PlaceOrder(ctx context.Context, req *protocol.PlaceOrderRequest) (*protocol.PlaceOrderResult, error) {
	if v.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if req == nil || len(req.MarketID) == 0 || len(req.UserID) == 0 || req.Quantity <= 0 {
		return nil, ErrInvalidParam
	}

	if req.IdempotencyKey != "" {
		prior, err := v.orders.OrderByIdemKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return v.replayResult(ctx, prior)
		}
	}

	market, err := v.markets.Market(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) {
			return nil, ErrMarketNotActive
		}
		return nil, err
	}
	if market.Status != protocol.MarketActive {
		return nil, ErrMarketNotActive
	}

	book, err := v.book(req.MarketID)
	if err != nil {
		return nil, err
	}

	orderID := xid.New().String()

	lockedMicros := int64(0)
	if req.Side == Buy {
		lockedMicros = buyCost(req.Price, req.Quantity)
	}

	// The lock call also reserves the idempotency key atomically, so of
	// several concurrent submissions with the same key exactly one
	// proceeds past here. Sells reserve with a zero lock.
	lock, err := v.escrow.Lock(ctx, req.UserID, orderID, req.IdempotencyKey, lockedMicros)
	if err != nil {
		return nil, err
	}
	if lock.Replayed {
		prior, perr := v.orders.OrderByIdemKey(ctx, req.IdempotencyKey)
		if perr != nil {
			return nil, perr
		}
		if prior == nil {
			// The reservation holder has not persisted its order yet.
			return nil, ErrDuplicateRequest
		}
		return v.replayResult(ctx, prior)
	}

	result, err := book.Place(ctx, orderID, req)
	if err != nil {
		v.unwindOrder(ctx, req, orderID, lockedMicros)
		return nil, err
	}

	if err := v.settleFills(ctx, req, result); err != nil {
		return nil, err
	}

	if err := v.persistOrder(ctx, req, result); err != nil {
		return nil, err
	}

	v.invalidateDepth(ctx, req.MarketID, book.Tick())
	return result, nil
}

// replayResult rebuilds the outcome of a previously executed order from
// its durable row and recorded fills. Remaining reflects the order's
// current state, not the moment of placement.
func (v *Venue) replayResult(ctx context.Context, row *store.OrderRow) (*protocol.PlaceOrderResult, error) {
	fills, err := v.orders.FillsByTaker(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return &protocol.PlaceOrderResult{
		OrderID:         row.ID,
		Fills:           fills,
		RestingQuantity: row.Remaining,
		Seq:             row.Seq,
		Replayed:        true,
	}, nil
}

// unwindOrder compensates a rejected placement: the collateral lock is
// released and the idempotency reservation freed for a retry.
func (v *Venue) unwindOrder(ctx context.Context, req *protocol.PlaceOrderRequest, orderID string, lockedMicros int64) {
	if lockedMicros > 0 {
		if err := v.escrow.Unlock(ctx, req.UserID, lockedMicros); err != nil {
			logger.Error("escrow unwind failed",
				"user_id", req.UserID, "order_id", orderID, "error", err)
		}
	}
	if err := v.escrow.Discard(ctx, req.IdempotencyKey); err != nil {
		logger.Error("idempotency reservation discard failed",
			"user_id", req.UserID, "order_id", orderID, "error", err)
	}
}

// settleFills applies ledger movements for each fill and releases any
// overlocked buy collateral.
func (v *Venue) settleFills(ctx context.Context, req *protocol.PlaceOrderRequest, result *protocol.PlaceOrderResult) error {
	var filled, cost int64
	for i := range result.Fills {
		fill := &result.Fills[i]
		if err := v.escrow.ApplyFill(ctx, fill); err != nil {
			return err
		}
		if err := v.updateMakerOrder(ctx, fill); err != nil {
			return err
		}
		filled += fill.Quantity
		cost += fill.Price * fill.Quantity
	}

	if req.Side != Buy {
		return nil
	}

	// The lock was taken at the limit price. Fills execute at maker
	// prices at or below it, and an IOC remainder never rests, so both
	// excesses return to the wallet here.
	release := buyCost(req.Price, filled) - cost
	if req.TimeInForce == protocol.TIFImmediateOrCancel {
		release += buyCost(req.Price, req.Quantity-filled-result.RestingQuantity)
	}
	if release > 0 {
		return v.escrow.Unlock(ctx, req.UserID, release)
	}
	return nil
}

func (v *Venue) updateMakerOrder(ctx context.Context, fill *protocol.Fill) error {
	err := v.orders.ApplyMakerFill(ctx, fill.MakerOrderID, fill.Quantity)
	if errors.Is(err, store.ErrOrderNotFound) {
		return nil
	}
	return err
}

func (v *Venue) persistOrder(ctx context.Context, req *protocol.PlaceOrderRequest, result *protocol.PlaceOrderResult) error {
	var filled int64
	for i := range result.Fills {
		filled += result.Fills[i].Quantity
	}

	status := store.OrderStatusOpen
	switch {
	case result.RestingQuantity > 0:
		status = store.OrderStatusOpen
	case filled == req.Quantity:
		status = store.OrderStatusFilled
	default:
		// IOC remainder
		status = store.OrderStatusCancelled
	}

	row := &store.OrderRow{
		ID:             result.OrderID,
		MarketID:       req.MarketID,
		UserID:         req.UserID,
		Outcome:        req.Outcome,
		Side:           req.Side,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Remaining:      result.RestingQuantity,
		TimeInForce:    req.TimeInForce,
		Status:         status,
		Seq:            result.Seq,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := v.orders.Create(ctx, row); err != nil {
		return err
	}

	return v.orders.RecordFills(ctx, result.Fills)
}

// CancelOrder removes a resting order and refunds its escrow.
func (v *Venue) CancelOrder(ctx context.Context, marketID, orderID string) (*protocol.CancelResult, error) {
	if v.isShutdown.Load() {
		return nil, ErrShutdown
	}

	book, err := v.book(marketID)
	if err != nil {
		return nil, err
	}

	// The refund needs the order's owner, so resolve the row before the
	// book forgets the order. A store failure here aborts the cancel with
	// all state intact.
	row, err := v.orders.Order(ctx, orderID)
	if err != nil {
		if !errors.Is(err, store.ErrOrderNotFound) {
			return nil, err
		}
		row = nil
	}

	result, err := book.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if result.Side == Buy && row != nil {
		release := buyCost(result.Price, result.ReleasedQuantity)
		if uerr := v.escrow.Unlock(ctx, row.UserID, release); uerr != nil {
			return nil, uerr
		}
	}

	if err := v.orders.UpdateFill(ctx, orderID, 0, store.OrderStatusCancelled); err != nil &&
		!errors.Is(err, store.ErrOrderNotFound) {
		return nil, err
	}

	v.invalidateDepth(ctx, marketID, book.Tick())
	return result, nil
}

// GetDepth returns bucketed depth at the requested granularity, served
// from the snapshot cache when fresh.
func (v *Venue) GetDepth(ctx context.Context, marketID string, granularity int64) (*protocol.DepthSnapshot, error) {
	book, err := v.book(marketID)
	if err != nil {
		return nil, err
	}

	tick := book.Tick()
	if !validGranularity(granularity, tick) {
		return nil, ErrInvalidGranularity
	}

	key := depthKey(marketID, granularity)
	if raw, err := v.cache.Get(ctx, key); err == nil {
		snap := &protocol.DepthSnapshot{}
		if err := v.serializer.Unmarshal(raw, snap); err == nil {
			return snap, nil
		}
	}

	rawDepth, err := book.Depth(v.maxDepth)
	if err != nil {
		return nil, err
	}
	snap := AggregateDepth(rawDepth, granularity, v.maxDepth)

	if raw, err := v.serializer.Marshal(snap); err == nil {
		if cerr := v.cache.SetWithTTL(ctx, key, raw, v.cacheTTL); cerr != nil {
			logger.Warn("depth cache write failed", "market_id", marketID, "error", cerr)
		}
	}

	return snap, nil
}

// GetSnapshot returns the full resting state of a market's books.
func (v *Venue) GetSnapshot(ctx context.Context, marketID string) (*protocol.BookSnapshot, error) {
	book, err := v.book(marketID)
	if err != nil {
		return nil, err
	}
	return book.Snapshot()
}

// AdjustTick runs one governor cycle for the market. Invoked by the
// periodic scheduler, not by end users.
func (v *Venue) AdjustTick(ctx context.Context, marketID string) error {
	book, err := v.book(marketID)
	if err != nil {
		return err
	}
	return v.governor.RunCycle(ctx, book, time.Now().UTC())
}

// ResolveMarket transitions a market into the terminal resolved state.
// The reason string audits admin overrides. Order flow stops immediately;
// payouts move when SettleMarket runs.
func (v *Venue) ResolveMarket(ctx context.Context, marketID string, winning Outcome, reason string) error {
	market, err := v.markets.Market(ctx, marketID)
	if err != nil {
		return err
	}
	if market.Status == protocol.MarketResolved || market.Status == protocol.MarketSettled {
		return ErrMarketNotActive
	}

	now := time.Now().UTC()
	market.Status = protocol.MarketResolved
	market.WinningOutcome = &winning
	market.ResolutionNote = reason
	market.ResolvedAt = &now
	if err := v.markets.Update(ctx, market); err != nil {
		return err
	}

	logger.Info("market resolved",
		"market_id", marketID,
		"winning_outcome", winning.String(),
		"reason", reason)
	return nil
}

// SettleMarket pays out the resolved market. Each winning share credits
// one collateral unit; escrow of orders still resting returns to its
// owners. Safe to call repeatedly: an applied batch replays its stored
// result.
func (v *Venue) SettleMarket(ctx context.Context, marketID string, winning Outcome) (*ledger.BatchResult, error) {
	market, err := v.markets.Market(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status == protocol.MarketActive || market.Status == protocol.MarketSuspended {
		return nil, ErrMarketNotActive
	}
	if market.WinningOutcome != nil {
		winning = *market.WinningOutcome
	}

	openLocks, err := v.collectOpenLocks(ctx, marketID)
	if err != nil {
		return nil, err
	}

	positions, err := v.positions.ByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	result, err := v.settlement.Settle(ctx, marketID, winning, positions, openLocks)
	if err != nil {
		return nil, err
	}

	if market.Status != protocol.MarketSettled {
		market.Status = protocol.MarketSettled
		if err := v.markets.Update(ctx, market); err != nil {
			return nil, err
		}
	}

	v.stopBook(ctx, marketID)
	return result, nil
}

// collectOpenLocks walks the live book for buy orders still resting and
// names the collateral each one holds.
func (v *Venue) collectOpenLocks(ctx context.Context, marketID string) ([]ledger.OpenLock, error) {
	book, err := v.book(marketID)
	if err != nil {
		// Book already stopped (settlement resumption); nothing left locked
		// that was not captured in the batch.
		return nil, nil
	}

	snap, err := book.Snapshot()
	if err != nil {
		return nil, err
	}

	locks := make([]ledger.OpenLock, 0)
	for _, side := range []protocol.SideOrders{snap.Yes, snap.No} {
		for _, order := range side.Bids {
			locks = append(locks, ledger.OpenLock{
				UserID: order.UserID,
				Amount: ledger.MicrosToDecimal(buyCost(order.Price, order.Remaining)),
			})
		}
	}
	return locks, nil
}

func (v *Venue) stopBook(ctx context.Context, marketID string) {
	b, ok := v.books.LoadAndDelete(marketID)
	if !ok {
		return
	}
	if err := b.(*Book).Shutdown(ctx); err != nil {
		logger.Warn("book shutdown interrupted", "market_id", marketID, "error", err)
	}
}

// Shutdown drains and stops every book.
func (v *Venue) Shutdown(ctx context.Context) error {
	if !v.isShutdown.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	v.books.Range(func(key, value any) bool {
		if err := value.(*Book).Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func depthKey(marketID string, granularity int64) string {
	return fmt.Sprintf("depth:%s:%d", marketID, granularity)
}

// invalidateDepth drops every cached granularity view of the market.
// TTL expiry backstops any key this misses after a tick change.
func (v *Venue) invalidateDepth(ctx context.Context, marketID string, tick int64) {
	for _, step := range GranularitySteps {
		if err := v.cache.Delete(ctx, depthKey(marketID, step*tick)); err != nil {
			logger.Warn("depth cache invalidation failed", "market_id", marketID, "error", err)
		}
	}
}
