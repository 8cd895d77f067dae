package store

import (
	"context"
	"errors"

	"github.com/predictx/matching-core/protocol"
)

var (
	// ErrMarketNotFound is returned for unknown market IDs.
	ErrMarketNotFound = errors.New("market not found")

	// ErrOrderNotFound is returned for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")
)

// MarketStore persists market records and their tick schedules.
type MarketStore interface {
	Market(ctx context.Context, marketID string) (*Market, error)
	Create(ctx context.Context, market *Market) error
	Update(ctx context.Context, market *Market) error
	// UpdateTick persists only the tick schedule and volatility fields,
	// leaving status and resolution untouched. The governor writes through
	// here so its cycle cannot clobber a concurrent resolution.
	UpdateTick(ctx context.Context, market *Market) error
	ByStatus(ctx context.Context, status protocol.MarketStatus) ([]Market, error)
}

// OrderStore persists orders and fills. OpenOrders feeds book rehydration
// on venue start.
type OrderStore interface {
	Order(ctx context.Context, orderID string) (*OrderRow, error)
	OrderByIdemKey(ctx context.Context, idempotencyKey string) (*OrderRow, error)
	Create(ctx context.Context, order *OrderRow) error
	UpdateFill(ctx context.Context, orderID string, remaining int64, status OrderStatus) error
	// ApplyMakerFill decrements the order's remaining quantity in place,
	// marking it filled at zero. The decrement happens inside the store so
	// concurrent takers hitting the same maker cannot write stale totals.
	ApplyMakerFill(ctx context.Context, orderID string, quantity int64) error
	OpenOrders(ctx context.Context, marketID string) ([]OrderRow, error)
	RecordFills(ctx context.Context, fills []protocol.Fill) error
	FillsByTaker(ctx context.Context, takerOrderID string) ([]protocol.Fill, error)
}
