package pricing

import (
	"time"

	"checkout-service/internal/models"
)

// Input is everything needed to price a cart. Voucher is only consulted when
// VoucherCode is non-empty.
type Input struct {
	Lines       []models.CartLine
	VoucherCode string
	Voucher     *models.Voucher
	ShippingFee int64
	UsePoints   bool
	Balance     int
	PointValue  int64
	Now         time.Time
}

// Breakdown is the fixed-at-creation money summary of an order.
type Breakdown struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shipping_fee"`
	PointsUsed  int   `json:"points_used"`
	PointsValue int64 `json:"points_value"`
	Total       int64 `json:"total"`
}

func Subtotal(lines []models.CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.LineTotal()
	}
	return total
}

// Compute applies, in order: voucher discount on the subtotal, shipping fee,
// then loyalty points against what remains.
func Compute(in Input) (Breakdown, error) {
	b := Breakdown{Subtotal: Subtotal(in.Lines), ShippingFee: in.ShippingFee}

	if in.VoucherCode != "" {
		discount, err := ApplyVoucher(in.Voucher, b.Subtotal, in.Now)
		if err != nil {
			return Breakdown{}, err
		}
		b.Discount = discount
	}

	payable := b.Subtotal - b.Discount + b.ShippingFee
	if in.UsePoints {
		r := RedeemPoints(in.Balance, payable, in.PointValue)
		b.PointsUsed = r.PointsUsed
		b.PointsValue = r.Value
	}

	b.Total = payable - b.PointsValue
	return b, nil
}
