package pricing

import (
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cart() []models.CartLine {
	return []models.CartLine{
		{ProductID: 1, Quantity: 2, UnitPrice: 200000},
		{ProductID: 2, Quantity: 1, UnitPrice: 100000},
	}
}

func TestComputeVoucherAndShipping(t *testing.T) {
	b, err := Compute(Input{
		Lines:       cart(),
		VoucherCode: "SUMMER",
		Voucher:     voucher(models.VoucherKindPercentage, "10"),
		ShippingFee: 20000,
		PointValue:  1000,
		Now:         now,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(500000), b.Subtotal)
	assert.Equal(t, int64(50000), b.Discount)
	assert.Equal(t, int64(470000), b.Total)
	assert.Zero(t, b.PointsUsed)
}

func TestComputeWithPoints(t *testing.T) {
	b, err := Compute(Input{
		Lines:       cart(),
		VoucherCode: "SUMMER",
		Voucher:     voucher(models.VoucherKindPercentage, "10"),
		ShippingFee: 20000,
		UsePoints:   true,
		Balance:     100,
		PointValue:  1000,
		Now:         now,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, b.PointsUsed)
	assert.Equal(t, int64(100000), b.PointsValue)
	assert.Equal(t, int64(370000), b.Total)
	assert.Equal(t, b.Subtotal-b.Discount+b.ShippingFee-b.PointsValue, b.Total)
}

func TestComputePointsIgnoredWhenNotRequested(t *testing.T) {
	b, err := Compute(Input{Lines: cart(), Balance: 500, PointValue: 1000, Now: now})
	require.NoError(t, err)
	assert.Zero(t, b.PointsUsed)
	assert.Equal(t, int64(500000), b.Total)
}

func TestComputeRejectsExpiredVoucher(t *testing.T) {
	v := voucher(models.VoucherKindPercentage, "10")
	v.EndDate = now.AddDate(0, 0, -1)

	_, err := Compute(Input{Lines: cart(), VoucherCode: "SUMMER", Voucher: v, Now: now})
	assert.ErrorIs(t, err, ErrVoucherExpired)
}

func TestComputeUnknownCode(t *testing.T) {
	_, err := Compute(Input{Lines: cart(), VoucherCode: "NOPE", Now: now})
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}
