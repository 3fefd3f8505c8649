package pricing

import (
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func voucher(kind models.VoucherKind, amount string) *models.Voucher {
	return &models.Voucher{
		Code:      "SUMMER",
		Kind:      kind,
		Amount:    decimal.RequireFromString(amount),
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.AddDate(0, 1, 0),
		Active:    true,
	}
}

func TestApplyVoucherPercentage(t *testing.T) {
	discount, err := ApplyVoucher(voucher(models.VoucherKindPercentage, "10"), 500000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), discount)
}

func TestApplyVoucherPercentageRounds(t *testing.T) {
	discount, err := ApplyVoucher(voucher(models.VoucherKindPercentage, "12.5"), 99999, now)
	require.NoError(t, err)
	assert.Equal(t, int64(12500), discount)
}

func TestApplyVoucherFixedCappedAtSubtotal(t *testing.T) {
	discount, err := ApplyVoucher(voucher(models.VoucherKindFixed, "200000"), 150000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), discount)

	discount, err = ApplyVoucher(voucher(models.VoucherKindFixed, "20000"), 150000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), discount)
}

func TestApplyVoucherPercentageNeverExceedsSubtotal(t *testing.T) {
	for _, pct := range []string{"0", "1", "33.3", "50", "99.9", "100", "150"} {
		for _, subtotal := range []int64{0, 1, 999, 500000, 123456789} {
			discount, err := ApplyVoucher(voucher(models.VoucherKindPercentage, pct), subtotal, now)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, discount, int64(0))
			assert.LessOrEqual(t, discount, subtotal, "pct=%s subtotal=%d", pct, subtotal)
		}
	}
}

func TestApplyVoucherFailures(t *testing.T) {
	inactive := voucher(models.VoucherKindFixed, "1000")
	inactive.Active = false

	future := voucher(models.VoucherKindFixed, "1000")
	future.StartDate = now.Add(time.Hour)

	expired := voucher(models.VoucherKindFixed, "1000")
	expired.EndDate = now.Add(-time.Hour)

	unknown := voucher("bogus", "1000")
	negative := voucher(models.VoucherKindFixed, "-5")

	tests := []struct {
		name    string
		v       *models.Voucher
		wantErr error
	}{
		{"not found", nil, ErrVoucherNotFound},
		{"inactive", inactive, ErrVoucherInactive},
		{"not started", future, ErrVoucherNotYetStarted},
		{"expired", expired, ErrVoucherExpired},
		{"unknown kind", unknown, ErrVoucherMalformed},
		{"negative", negative, ErrVoucherMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount, err := ApplyVoucher(tt.v, 500000, now)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, discount)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestVoucherReasonsAreDistinct(t *testing.T) {
	codes := map[string]bool{}
	for _, err := range []error{ErrVoucherNotFound, ErrVoucherInactive, ErrVoucherNotYetStarted, ErrVoucherExpired} {
		codes[apperr.CodeOf(err)] = true
	}
	assert.Len(t, codes, 4)
}
