// Package pricing holds the pure money rules of checkout: voucher discounts,
// loyalty point redemption and the final order breakdown.
package pricing

import (
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrVoucherNotFound indicates no voucher exists for the supplied code.
	ErrVoucherNotFound = apperr.New(apperr.KindValidation, "voucher_not_found", "pricing: voucher not found")
	// ErrVoucherInactive indicates the voucher exists but has been switched off.
	ErrVoucherInactive = apperr.New(apperr.KindValidation, "voucher_inactive", "pricing: voucher inactive")
	// ErrVoucherNotYetStarted indicates the activity window has not opened.
	ErrVoucherNotYetStarted = apperr.New(apperr.KindValidation, "voucher_not_started", "pricing: voucher not yet started")
	// ErrVoucherExpired indicates the activity window has closed.
	ErrVoucherExpired = apperr.New(apperr.KindValidation, "voucher_expired", "pricing: voucher expired")
	// ErrVoucherMalformed marks a stored voucher with an unknown kind or negative amount.
	ErrVoucherMalformed = apperr.New(apperr.KindValidation, "voucher_malformed", "pricing: voucher malformed")
)

var hundred = decimal.NewFromInt(100)

// ValidateVoucher checks the voucher's flag and activity window at now.
// A nil voucher means the code did not resolve.
func ValidateVoucher(v *models.Voucher, now time.Time) error {
	switch {
	case v == nil:
		return ErrVoucherNotFound
	case !v.Active:
		return ErrVoucherInactive.Withf("pricing: voucher %s inactive", v.Code)
	case now.Before(v.StartDate):
		return ErrVoucherNotYetStarted.Withf("pricing: voucher %s valid from %s", v.Code, v.StartDate.Format("02/01/2006"))
	case now.After(v.EndDate):
		return ErrVoucherExpired.Withf("pricing: voucher %s expired on %s", v.Code, v.EndDate.Format("02/01/2006"))
	}
	return nil
}

// ApplyVoucher validates v and returns the discount for subtotal. The result is
// always within [0, subtotal].
func ApplyVoucher(v *models.Voucher, subtotal int64, now time.Time) (int64, error) {
	if err := ValidateVoucher(v, now); err != nil {
		return 0, err
	}
	if v.Amount.IsNegative() {
		return 0, ErrVoucherMalformed
	}

	var discount decimal.Decimal
	switch v.Kind {
	case models.VoucherKindPercentage:
		discount = decimal.NewFromInt(subtotal).Mul(v.Amount).Div(hundred).Round(0)
	case models.VoucherKindFixed:
		discount = v.Amount.Round(0)
	default:
		return 0, ErrVoucherMalformed.Withf("pricing: voucher %s has unknown kind %q", v.Code, v.Kind)
	}

	return clamp(discount.IntPart(), 0, subtotal), nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
