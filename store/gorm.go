package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/predictx/matching-core/protocol"
)

// Migrate creates the market and order tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Market{}, &OrderRow{}, &FillRow{})
}

// GormMarketStore persists markets through gorm.
type GormMarketStore struct {
	db *gorm.DB
}

func NewGormMarketStore(db *gorm.DB) *GormMarketStore {
	return &GormMarketStore{db: db}
}

func (s *GormMarketStore) Market(ctx context.Context, marketID string) (*Market, error) {
	var m Market
	err := s.db.WithContext(ctx).Where("id = ?", marketID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormMarketStore) Create(ctx context.Context, market *Market) error {
	return s.db.WithContext(ctx).Create(market).Error
}

func (s *GormMarketStore) Update(ctx context.Context, market *Market) error {
	market.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Save(market)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

func (s *GormMarketStore) UpdateTick(ctx context.Context, market *Market) error {
	res := s.db.WithContext(ctx).Model(&Market{}).
		Where("id = ?", market.ID).
		Updates(map[string]any{
			"tick_size":        market.TickSize,
			"pending_tick":     market.PendingTick,
			"pending_apply_at": market.PendingApplyAt,
			"last_volatility":  market.LastVolatility,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

func (s *GormMarketStore) ByStatus(ctx context.Context, status protocol.MarketStatus) ([]Market, error) {
	var out []Market
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&out).Error
	return out, err
}

// GormOrderStore persists orders and fills through gorm.
type GormOrderStore struct {
	db *gorm.DB
}

func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

func (s *GormOrderStore) Order(ctx context.Context, orderID string) (*OrderRow, error) {
	var o OrderRow
	err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *GormOrderStore) OrderByIdemKey(ctx context.Context, idempotencyKey string) (*OrderRow, error) {
	var o OrderRow
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *GormOrderStore) Create(ctx context.Context, order *OrderRow) error {
	return s.db.WithContext(ctx).Create(order).Error
}

func (s *GormOrderStore) UpdateFill(ctx context.Context, orderID string, remaining int64, status OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&OrderRow{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"remaining": remaining, "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *GormOrderStore) ApplyMakerFill(ctx context.Context, orderID string, quantity int64) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE orders
		SET remaining = GREATEST(remaining - ?, 0),
		    status = CASE WHEN remaining - ? <= 0 THEN ? ELSE status END,
		    updated_at = NOW()
		WHERE id = ?`,
		quantity, quantity, OrderStatusFilled, orderID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *GormOrderStore) OpenOrders(ctx context.Context, marketID string) ([]OrderRow, error) {
	var out []OrderRow
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND status = ?", marketID, OrderStatusOpen).
		Order("seq").
		Find(&out).Error
	return out, err
}

func (s *GormOrderStore) RecordFills(ctx context.Context, fills []protocol.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	rows := make([]FillRow, 0, len(fills))
	for _, f := range fills {
		rows = append(rows, FillRow{
			ID:           uuid.New(),
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
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormOrderStore) FillsByTaker(ctx context.Context, takerOrderID string) ([]protocol.Fill, error) {
	var rows []FillRow
	err := s.db.WithContext(ctx).
		Where("taker_order_id = ?", takerOrderID).
		Order("trade_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]protocol.Fill, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Fill())
	}
	return out, nil
}
