package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/predictx/matching-core/protocol"
)

// MemoryMarketStore is an in-process MarketStore.
type MemoryMarketStore struct {
	mu      sync.Mutex
	markets map[string]*Market
}

func NewMemoryMarketStore() *MemoryMarketStore {
	return &MemoryMarketStore{markets: make(map[string]*Market)}
}

func (s *MemoryMarketStore) Market(ctx context.Context, marketID string) (*Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	cpy := *m
	return &cpy, nil
}

func (s *MemoryMarketStore) Create(ctx context.Context, market *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	market.CreatedAt = now
	market.UpdatedAt = now

	cpy := *market
	s.markets[market.ID] = &cpy
	return nil
}

func (s *MemoryMarketStore) Update(ctx context.Context, market *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[market.ID]; !ok {
		return ErrMarketNotFound
	}
	market.UpdatedAt = time.Now().UTC()

	cpy := *market
	s.markets[market.ID] = &cpy
	return nil
}

func (s *MemoryMarketStore) UpdateTick(ctx context.Context, market *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[market.ID]
	if !ok {
		return ErrMarketNotFound
	}
	m.TickSize = market.TickSize
	m.PendingTick = market.PendingTick
	m.PendingApplyAt = market.PendingApplyAt
	m.LastVolatility = market.LastVolatility
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryMarketStore) ByStatus(ctx context.Context, status protocol.MarketStatus) ([]Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Market, 0)
	for _, m := range s.markets {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryOrderStore is an in-process OrderStore.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]*OrderRow
	byIdem map[string]string
	fills  []FillRow
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*OrderRow),
		byIdem: make(map[string]string),
	}
}

func (s *MemoryOrderStore) Order(ctx context.Context, orderID string) (*OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cpy := *o
	return &cpy, nil
}

func (s *MemoryOrderStore) OrderByIdemKey(ctx context.Context, idempotencyKey string) (*OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdem[idempotencyKey]
	if !ok {
		return nil, nil
	}
	cpy := *s.orders[id]
	return &cpy, nil
}

func (s *MemoryOrderStore) Create(ctx context.Context, order *OrderRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	cpy := *order
	s.orders[order.ID] = &cpy
	if order.IdempotencyKey != "" {
		s.byIdem[order.IdempotencyKey] = order.ID
	}
	return nil
}

func (s *MemoryOrderStore) UpdateFill(ctx context.Context, orderID string, remaining int64, status OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Remaining = remaining
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryOrderStore) OpenOrders(ctx context.Context, marketID string) ([]OrderRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderRow, 0)
	for _, o := range s.orders {
		if o.MarketID == marketID && o.Status == OrderStatusOpen {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryOrderStore) ApplyMakerFill(ctx context.Context, orderID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Remaining -= quantity
	if o.Remaining <= 0 {
		o.Remaining = 0
		o.Status = OrderStatusFilled
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryOrderStore) RecordFills(ctx context.Context, fills []protocol.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fills {
		s.fills = append(s.fills, FillRow{
			TradeID:      f.TradeID,
			MarketID:     f.MarketID,
			Outcome:      f.Outcome,
			TakerSide:    f.TakerSide,
			Price:        f.Price,
			Quantity:     f.Quantity,
			TakerOrderID: f.TakerOrderID,
			TakerUserID:  f.TakerUserID,
			MakerOrderID: f.MakerOrderID,
			MakerUserID:  f.MakerUserID,
			CreatedAt:    f.CreatedAt,
		})
	}
	return nil
}

func (s *MemoryOrderStore) FillsByTaker(ctx context.Context, takerOrderID string) ([]protocol.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Fill, 0)
	for i := range s.fills {
		if s.fills[i].TakerOrderID == takerOrderID {
			out = append(out, s.fills[i].Fill())
		}
	}
	return out, nil
}

// Fills returns all recorded fills, useful for tests.
func (s *MemoryOrderStore) Fills() []FillRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FillRow, len(s.fills))
	copy(out, s.fills)
	return out
}
