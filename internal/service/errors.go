package service

import "checkout-service/internal/apperr"

var (
	ErrEmptyCart           = apperr.New(apperr.KindValidation, "empty_cart", "checkout: cart is empty")
	ErrInvalidQuantity     = apperr.New(apperr.KindValidation, "invalid_quantity", "cart: quantity must be positive")
	ErrInsufficientStock   = apperr.New(apperr.KindValidation, "insufficient_stock", "cart: not enough stock")
	ErrBonusLineLocked     = apperr.New(apperr.KindValidation, "bonus_line_locked", "cart: bonus lines follow their parent line")
	ErrInvalidMethod       = apperr.New(apperr.KindValidation, "invalid_payment_method", "checkout: unsupported payment method")
	ErrDestinationRequired = apperr.New(apperr.KindValidation, "destination_required", "checkout: shipping address needs destination coordinates")

	// ErrCheckoutInProgress rejects a second checkout while the user's lock is held.
	ErrCheckoutInProgress = apperr.New(apperr.KindConflict, "checkout_in_progress", "checkout: another checkout is in progress")
	// ErrStaleCart means the cart changed between snapshot and clear.
	ErrStaleCart = apperr.New(apperr.KindConflict, "stale_cart", "checkout: cart changed during checkout")

	ErrOrderNotFound      = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	ErrInvalidTransition  = apperr.New(apperr.KindInvalidTransition, "invalid_transition", "order: transition not allowed")
	ErrPaymentNotRequired = apperr.New(apperr.KindInvalidTransition, "payment_not_required", "payment: order is not awaiting online payment")

	// ErrAmountMismatch rejects a verified callback whose amount differs from the order total.
	ErrAmountMismatch = apperr.New(apperr.KindValidation, "amount_mismatch", "payment: callback amount does not match order total")
)
