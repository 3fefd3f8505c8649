package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the checkout needs: price, stock and the
// optional bonus product offered alongside it.
type Product struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Price          int64      `db:"price" json:"price"`
	Stock          int        `db:"stock" json:"stock"`
	BonusProductID *int64     `db:"bonus_product_id" json:"bonus_product_id,omitempty"`
	BonusPrice     *int64     `db:"bonus_price" json:"bonus_price,omitempty"`
	PromoEndsAt    *time.Time `db:"promo_ends_at" json:"promo_ends_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// BonusOffered reports whether the bundled bonus product is still on offer at now.
func (p *Product) BonusOffered(now time.Time) bool {
	if p.BonusProductID == nil {
		return false
	}
	return p.PromoEndsAt == nil || !now.After(*p.PromoEndsAt)
}

// User carries the loyalty balance.
type User struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Points int    `db:"points" json:"points"`
}

// CartLine holds the unit price captured when the line was added.
type CartLine struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	ProductID   int64     `db:"product_id" json:"product_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	BonusOf     *int64    `db:"bonus_of" json:"bonus_of,omitempty"`
	ProductName string    `db:"product_name" json:"product_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (l CartLine) LineTotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type VoucherKind string

const (
	VoucherKindPercentage VoucherKind = "percentage"
	VoucherKindFixed      VoucherKind = "fixed"
)

type Voucher struct {
	ID        int64           `db:"id" json:"id"`
	Code      string          `db:"code" json:"code"`
	Kind      VoucherKind     `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	StartDate time.Time       `db:"start_date" json:"start_date"`
	EndDate   time.Time       `db:"end_date" json:"end_date"`
	Active    bool            `db:"active" json:"active"`
}

type PaymentMethod string

const (
	PaymentMethodCOD   PaymentMethod = "COD"
	PaymentMethodVNPay PaymentMethod = "VNPAY"
	PaymentMethodMoMo  PaymentMethod = "MOMO"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodVNPay, PaymentMethodMoMo:
		return true
	}
	return false
}

func (m PaymentMethod) Online() bool {
	return m == PaymentMethodVNPay || m == PaymentMethodMoMo
}

// Order amounts are fixed at creation:
// TotalAmount = Subtotal - DiscountAmount + ShippingFee - PointsValue.
type Order struct {
	ID             int64         `db:"id" json:"id"`
	UserID         int64         `db:"user_id" json:"user_id"`
	CustomerName   string        `db:"customer_name" json:"customer_name"`
	Status         OrderStatus   `db:"status" json:"status"`
	PaymentMethod  PaymentMethod `db:"payment_method" json:"payment_method"`
	Subtotal       int64         `db:"subtotal" json:"subtotal"`
	DiscountAmount int64         `db:"discount_amount" json:"discount_amount"`
	ShippingFee    int64         `db:"shipping_fee" json:"shipping_fee"`
	PointsUsed     int           `db:"points_used" json:"points_used"`
	PointsValue    int64         `db:"points_value" json:"points_value"`
	TotalAmount    int64         `db:"total_amount" json:"total_amount"`
	VoucherCode    *string       `db:"voucher_code" json:"voucher_code,omitempty"`
	Address        string        `db:"address" json:"address"`
	PaidAt         *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

type OrderLine struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

type Shipping struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	Address    string    `db:"address" json:"address"`
	Lat        float64   `db:"lat" json:"lat"`
	Lng        float64   `db:"lng" json:"lng"`
	DistanceKm float64   `db:"distance_km" json:"distance_km"`
	Fee        int64     `db:"fee" json:"fee"`
	Method     string    `db:"method" json:"method"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type Payment struct {
	ID        int64         `db:"id" json:"id"`
	OrderID   int64         `db:"order_id" json:"order_id"`
	Method    PaymentMethod `db:"method" json:"method"`
	Amount    int64         `db:"amount" json:"amount"`
	Status    PaymentStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// GatewayTransaction is the append-only receipt trail. Inbound rows are
// unique on (gateway, transaction_id).
type GatewayTransaction struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	Gateway        string    `db:"gateway" json:"gateway"`
	Direction      string    `db:"direction" json:"direction"`
	RequestID      string    `db:"request_id" json:"request_id"`
	GatewayOrderID string    `db:"gateway_order_id" json:"gateway_order_id"`
	TransactionID  *string   `db:"transaction_id" json:"transaction_id,omitempty"`
	ResultCode     string    `db:"result_code" json:"result_code"`
	Amount         int64     `db:"amount" json:"amount"`
	Signature      string    `db:"signature" json:"signature"`
	RawPayload     string    `db:"raw_payload" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type Notification struct {
	ID            int64     `db:"id" json:"id"`
	Channel       string    `db:"channel" json:"channel"`
	Message       string    `db:"message" json:"message"`
	Link          string    `db:"link" json:"link"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
