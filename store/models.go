package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/predictx/matching-core/protocol"
)

// Market is the durable record of one binary market, including its tick
// schedule and resolution state.
type Market struct {
	ID             string                `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Question       string                `json:"question" gorm:"type:text"`
	Status         protocol.MarketStatus `json:"status" gorm:"type:varchar(20);index:idx_market_status;not null"`
	WinningOutcome *protocol.Outcome     `json:"winning_outcome,omitempty"`
	ResolutionNote string                `json:"resolution_note,omitempty" gorm:"type:text"`

	// Tick governance
	TickSize       int64      `json:"tick_size" gorm:"not null"`
	MinTick        int64      `json:"min_tick" gorm:"not null"`
	MaxTick        int64      `json:"max_tick" gorm:"not null"`
	PendingTick    *int64     `json:"pending_tick,omitempty"`
	PendingApplyAt *time.Time `json:"pending_apply_at,omitempty"`
	LastVolatility float64    `json:"last_volatility"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (Market) TableName() string {
	return "markets"
}

// OrderStatus is the durable lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRow is the durable record of an order. The book's arena holds only
// live matching state; this row is the source of truth for rehydration and
// audit.
type OrderRow struct {
	ID             string               `json:"id" gorm:"primaryKey;type:varchar(64)"`
	MarketID       string               `json:"market_id" gorm:"type:varchar(64);index:idx_order_market;not null"`
	UserID         string               `json:"user_id" gorm:"type:varchar(64);index:idx_order_user;not null"`
	Outcome        protocol.Outcome     `json:"outcome" gorm:"not null"`
	Side           protocol.Side        `json:"side" gorm:"not null"`
	Price          int64                `json:"price" gorm:"not null"`
	Quantity       int64                `json:"quantity" gorm:"not null"`
	Remaining      int64                `json:"remaining" gorm:"not null"`
	TimeInForce    protocol.TimeInForce `json:"time_in_force" gorm:"type:varchar(8)"`
	Status         OrderStatus          `json:"status" gorm:"type:varchar(16);index:idx_order_status;not null"`
	Seq            uint64               `json:"seq" gorm:"not null"`
	IdempotencyKey string               `json:"idempotency_key,omitempty" gorm:"type:varchar(128);index:idx_order_idempotency"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (OrderRow) TableName() string {
	return "orders"
}

// FillRow is the durable record of one trade.
type FillRow struct {
	ID           uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	TradeID      uint64           `json:"trade_id" gorm:"index:idx_fill_trade;not null"`
	MarketID     string           `json:"market_id" gorm:"type:varchar(64);index:idx_fill_market;not null"`
	Outcome      protocol.Outcome `json:"outcome" gorm:"not null"`
	TakerSide    protocol.Side    `json:"taker_side" gorm:"not null"`
	Price        int64            `json:"price" gorm:"not null"`
	Quantity     int64            `json:"quantity" gorm:"not null"`
	TakerOrderID string           `json:"taker_order_id" gorm:"type:varchar(64);index:idx_fill_taker"`
	TakerUserID  string           `json:"taker_user_id" gorm:"type:varchar(64)"`
	MakerOrderID string           `json:"maker_order_id" gorm:"type:varchar(64);index:idx_fill_maker"`
	MakerUserID  string           `json:"maker_user_id" gorm:"type:varchar(64)"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Fill converts the durable row back to its wire form.
func (r *FillRow) Fill() protocol.Fill {
	return protocol.Fill{
		TradeID:      r.TradeID,
		MarketID:     r.MarketID,
		Outcome:      r.Outcome,
		TakerSide:    r.TakerSide,
		Price:        r.Price,
		Quantity:     r.Quantity,
		TakerOrderID: r.TakerOrderID,
		TakerUserID:  r.TakerUserID,
		MakerOrderID: r.MakerOrderID,
		MakerUserID:  r.MakerUserID,
		CreatedAt:    r.CreatedAt,
	}
}

func (FillRow) TableName() string {
	return "fills"
}
