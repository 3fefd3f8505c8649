package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/shipping"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shippingMethodRoad = "road"

type CheckoutConfig struct {
	PointValue int64
	LockTTL    time.Duration
	Notices    OrderNotices
}

// CheckoutService turns a cart into an order in a single transaction.
type CheckoutService struct {
	store     store.Transactor
	locker    CheckoutLocker
	quoter    ShippingQuoter
	publisher EventPublisher
	notifier  Notifier
	cfg       CheckoutConfig
	now       func() time.Time
	logger    *zap.Logger
}

func NewCheckoutService(
	store store.Transactor,
	locker CheckoutLocker,
	quoter ShippingQuoter,
	publisher EventPublisher,
	notifier Notifier,
	cfg CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		locker:    locker,
		quoter:    quoter,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.Named("checkout"),
	}
}

// CheckoutRequest carries no amounts: discount, shipping fee and point value
// are always derived server-side.
type CheckoutRequest struct {
	UserID        int64                `json:"-"`
	PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	VoucherCode   string               `json:"voucher_code,omitempty"`
	UsePoints     bool                 `json:"use_points"`
	Destination   *shipping.Coordinate `json:"destination,omitempty"`
	Address       string               `json:"address,omitempty"`
}

type CheckoutResponse struct {
	OrderID       int64                `json:"order_id"`
	Status        models.OrderStatus   `json:"status"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Breakdown     pricing.Breakdown    `json:"breakdown"`
	Shipping      *shipping.Quote      `json:"shipping,omitempty"`
}

type VoucherPreview struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
}

// PreviewVoucher prices the current cart with code without persisting
// anything. An unusable voucher returns its specific pricing error.
func (s *CheckoutService) PreviewVoucher(ctx context.Context, userID int64, code string) (*VoucherPreview, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PreviewVoucher")
	defer span.End()

	code = strings.TrimSpace(code)
	lines, err := s.store.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	voucher, err := s.store.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}

	subtotal := pricing.Subtotal(lines)
	discount, err := pricing.ApplyVoucher(voucher, subtotal, s.now())
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	return &VoucherPreview{Code: code, Subtotal: subtotal, Discount: discount, Total: subtotal - discount}, nil
}

func (s *CheckoutService) QuoteShipping(ctx context.Context, dest shipping.Coordinate) (*shipping.Quote, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.QuoteShipping")
	defer span.End()

	quote, err := s.quoter.Quote(ctx, dest)
	util.RecordError(span, err)
	return quote, err
}

// Checkout materializes the user's cart into an order. Either every row
// (order, lines, shipping, payment, point deduction, cart clear) commits or
// none does.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	start := time.Now()
	defer func() { util.CheckoutLatency.Observe(time.Since(start).Seconds()) }()

	resp, err := s.checkout(ctx, req)
	if err != nil {
		util.RecordError(span, err)
		util.CheckoutFailuresTotal.WithLabelValues(apperr.CodeOf(err)).Inc()
		s.logger.Info("Checkout rejected",
			zap.Int64("user_id", req.UserID),
			zap.String("reason", apperr.CodeOf(err)),
			zap.Error(err))
		return nil, err
	}
	util.CheckoutsTotal.WithLabelValues(string(req.PaymentMethod)).Inc()
	return resp, nil
}

func (s *CheckoutService) checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	req.PaymentMethod = models.PaymentMethod(strings.ToUpper(string(req.PaymentMethod)))
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidMethod.Withf("checkout: unsupported payment method %q", req.PaymentMethod)
	}
	req.VoucherCode = strings.TrimSpace(req.VoucherCode)
	req.Address = strings.TrimSpace(req.Address)
	if req.Address != "" && req.Destination == nil {
		return nil, ErrDestinationRequired
	}

	// The routing call is the only blocking I/O and stays outside the transaction.
	var quote *shipping.Quote
	if req.Destination != nil {
		q, err := s.quoter.Quote(ctx, *req.Destination)
		if err != nil {
			return nil, err
		}
		quote = q
	}

	var voucher *models.Voucher
	if req.VoucherCode != "" {
		v, err := s.store.GetVoucherByCode(ctx, req.VoucherCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load voucher: %w", err)
		}
		voucher = v
	}

	release, err := s.lock(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var (
		order     models.Order
		breakdown pricing.Breakdown
		lineData  []models.OrderLineData
	)

	err = s.store.WithTx(ctx, func(tx store.Repository) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}

		lines, err := tx.GetCartLinesForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		in := pricing.Input{
			Lines:       lines,
			VoucherCode: req.VoucherCode,
			Voucher:     voucher,
			UsePoints:   req.UsePoints,
			Balance:     user.Points,
			PointValue:  s.cfg.PointValue,
			Now:         now,
		}
		if quote != nil {
			in.ShippingFee = quote.Fee
		}
		breakdown, err = pricing.Compute(in)
		if err != nil {
			return err
		}

		order = models.Order{
			UserID:         user.ID,
			CustomerName:   user.Name,
			Status:         models.OrderStatusAwaitingPayment,
			PaymentMethod:  req.PaymentMethod,
			Subtotal:       breakdown.Subtotal,
			DiscountAmount: breakdown.Discount,
			ShippingFee:    breakdown.ShippingFee,
			PointsUsed:     breakdown.PointsUsed,
			PointsValue:    breakdown.PointsValue,
			TotalAmount:    breakdown.Total,
			Address:        req.Address,
		}
		paymentStatus := models.PaymentStatusPending
		if !req.PaymentMethod.Online() {
			order.Status = models.OrderStatusAwaitingFulfillment
			paymentStatus = models.PaymentStatusCompleted
		}
		if req.VoucherCode != "" {
			code := req.VoucherCode
			order.VoucherCode = &code
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		lineIDs := make([]int64, 0, len(lines))
		lineData = make([]models.OrderLineData, 0, len(lines))
		for _, l := range lines {
			ol := &models.OrderLine{OrderID: order.ID, ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
			if err := tx.InsertOrderLine(ctx, ol); err != nil {
				return fmt.Errorf("failed to create order line: %w", err)
			}
			lineIDs = append(lineIDs, l.ID)
			lineData = append(lineData, models.OrderLineData{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
		}

		if quote != nil {
			if err := tx.InsertShipping(ctx, &models.Shipping{
				OrderID:    order.ID,
				Address:    req.Address,
				Lat:        req.Destination.Lat,
				Lng:        req.Destination.Lng,
				DistanceKm: quote.DistanceKm,
				Fee:        quote.Fee,
				Method:     shippingMethodRoad,
			}); err != nil {
				return fmt.Errorf("failed to create shipping: %w", err)
			}
		}

		if err := tx.InsertPayment(ctx, &models.Payment{
			OrderID: order.ID,
			Method:  req.PaymentMethod,
			Amount:  order.TotalAmount,
			Status:  paymentStatus,
		}); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		if breakdown.PointsUsed > 0 {
			if err := tx.AdjustPoints(ctx, user.ID, -breakdown.PointsUsed); err != nil {
				return err
			}
		}

		deleted, err := tx.DeleteCartLines(ctx, user.ID, lineIDs)
		if err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		if deleted != int64(len(lineIDs)) {
			return ErrStaleCart
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.Int64("total_amount", order.TotalAmount))

	s.afterCommit(ctx, &order, lineData)

	return &CheckoutResponse{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		Breakdown:     breakdown,
		Shipping:      quote,
	}, nil
}

// lock takes the per-user Redis guard. A Redis outage does not block
// checkout; the row locks taken in the transaction still serialize it.
func (s *CheckoutService) lock(ctx context.Context, userID int64) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	token, ok, err := s.locker.AcquireCheckoutLock(ctx, userID, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, relying on row locks",
			zap.Int64("user_id", userID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}

	return func() {
		if err := s.locker.ReleaseCheckoutLock(context.WithoutCancel(ctx), userID, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Int64("user_id", userID), zap.Error(err))
		}
	}, nil
}

func (s *CheckoutService) afterCommit(ctx context.Context, order *models.Order, lines []models.OrderLineData) {
	ctx = context.WithoutCancel(ctx)

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		Lines:         lines,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	s.notifier.Notify(ctx, s.cfg.Notices.AdminChannel,
		s.cfg.Notices.adminMessage("PLACED", order),
		s.cfg.Notices.link(order.ID),
		fmt.Sprint(order.ID))
}
