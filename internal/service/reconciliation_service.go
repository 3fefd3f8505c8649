package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReconciliationConfig struct {
	PaymentExpiry  time.Duration
	PointsEarnUnit int64
	MarkerTTL      time.Duration
	Notices        OrderNotices
}

// ReconciliationService owns order and payment status after checkout. Every
// transition runs in a transaction holding the order row lock.
type ReconciliationService struct {
	store     store.Transactor
	gateways  *payment.Registry
	markers   CallbackMarker
	publisher EventPublisher
	notifier  Notifier
	cfg       ReconciliationConfig
	now       func() time.Time
	logger    *zap.Logger
}

func NewReconciliationService(
	store store.Transactor,
	gateways *payment.Registry,
	markers CallbackMarker,
	publisher EventPublisher,
	notifier Notifier,
	cfg ReconciliationConfig,
) *ReconciliationService {
	return &ReconciliationService{
		store:     store,
		gateways:  gateways,
		markers:   markers,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.Named("reconciliation"),
	}
}

type CallbackOutcome string

const (
	// OutcomeApplied means the callback moved the order.
	OutcomeApplied CallbackOutcome = "applied"
	// OutcomeDuplicate means the idempotency key was already processed.
	OutcomeDuplicate CallbackOutcome = "duplicate"
	// OutcomeIgnored means the order was no longer awaiting payment.
	OutcomeIgnored CallbackOutcome = "ignored"
)

type CallbackResult struct {
	Outcome CallbackOutcome    `json:"outcome"`
	OrderID int64              `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Success bool               `json:"success"`
}

// transition describes what happened inside a locked transaction so that
// events and notifications can be emitted after commit.
type transition struct {
	order  models.Order
	from   models.OrderStatus
	to     models.OrderStatus
	reason string
	earned int
}

// idempotencyKey is the gateway transaction id. Callbacks without one (a
// cancelled VNPAY payment reports "0") fall back to the gateway order id and
// result code.
func idempotencyKey(res *payment.VerifiedResult) string {
	if res.TransactionID != "" && res.TransactionID != "0" {
		return res.TransactionID
	}
	return res.GatewayOrderID + "#" + res.ResultCode
}

// HandleCallback verifies and applies an inbound gateway callback. Replays are
// answered with OutcomeDuplicate and never repeat side effects.
func (s *ReconciliationService) HandleCallback(ctx context.Context, gatewayName string, cb payment.Callback) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.HandleCallback")
	defer span.End()

	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	gatewayName = gw.Name()

	res, err := gw.VerifyCallback(ctx, cb)
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, payment.ErrSignatureMismatch) {
			util.SignatureMismatchTotal.WithLabelValues(gatewayName).Inc()
			util.CallbacksTotal.WithLabelValues(gatewayName, "rejected").Inc()
			s.logger.Warn("Rejected callback with invalid signature",
				util.SecurityEvent(),
				zap.String("gateway", gatewayName),
				zap.Error(err))
			return nil, err
		}
		util.CallbacksTotal.WithLabelValues(gatewayName, "malformed").Inc()
		s.logger.Warn("Rejected malformed callback", zap.String("gateway", gatewayName), zap.Error(err))
		return nil, err
	}

	key := idempotencyKey(res)
	log := s.logger.With(
		zap.String("gateway", gatewayName),
		zap.Int64("order_id", res.OrderID),
		zap.String("transaction_id", key))

	if s.seen(ctx, gatewayName, key) {
		util.CallbacksTotal.WithLabelValues(gatewayName, string(OutcomeDuplicate)).Inc()
		log.Info("Duplicate callback short-circuited")
		return s.duplicateResult(ctx, res.OrderID)
	}

	result := &CallbackResult{OrderID: res.OrderID}
	var tr *transition

	err = s.store.WithTx(ctx, func(tx store.Repository) error {
		order, err := tx.LockOrder(ctx, res.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound.Withf("order %d not found", res.OrderID)
			}
			return err
		}
		result.Status = order.Status

		if res.Amount != order.TotalAmount {
			log.Warn("Callback amount does not match order total",
				util.SecurityEvent(),
				zap.Int64("callback_amount", res.Amount),
				zap.Int64("order_total", order.TotalAmount))
			return ErrAmountMismatch.Withf("payment: callback amount %d, order total %d", res.Amount, order.TotalAmount)
		}

		txnID := key
		inserted, err := tx.InsertGatewayTransaction(ctx, &models.GatewayTransaction{
			OrderID:        order.ID,
			Gateway:        gatewayName,
			Direction:      models.DirectionInbound,
			RequestID:      res.RequestID,
			GatewayOrderID: res.GatewayOrderID,
			TransactionID:  &txnID,
			ResultCode:     res.ResultCode,
			Amount:         res.Amount,
			Signature:      res.Signature,
			RawPayload:     res.Raw,
		})
		if err != nil {
			return fmt.Errorf("failed to record gateway transaction: %w", err)
		}
		if !inserted {
			result.Outcome = OutcomeDuplicate
			return nil
		}

		if order.Status != models.OrderStatusAwaitingPayment {
			result.Outcome = OutcomeIgnored
			util.LateCallbacksTotal.WithLabelValues(gatewayName, string(order.Status)).Inc()
			log.Warn("Callback for settled order recorded and ignored",
				zap.String("status", string(order.Status)),
				zap.Bool("gateway_success", res.Success))
			return nil
		}

		if res.Success {
			tr, err = s.markPaid(ctx, tx, order)
		} else {
			tr, err = s.settleUnpaid(ctx, tx, order, models.OrderStatusPaymentFailed,
				fmt.Sprintf("gateway result %s: %s", res.ResultCode, res.Message))
		}
		if err != nil {
			return err
		}
		result.Outcome = OutcomeApplied
		result.Status = tr.to
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		util.CallbacksTotal.WithLabelValues(gatewayName, "error").Inc()
		return nil, err
	}

	result.Success = result.Status == models.OrderStatusPaid
	util.CallbacksTotal.WithLabelValues(gatewayName, string(result.Outcome)).Inc()
	s.mark(ctx, gatewayName, key)

	if tr != nil {
		if tr.to == models.OrderStatusPaid {
			s.emitPaid(ctx, tr, gatewayName, key)
		} else {
			util.OrdersFailedTotal.WithLabelValues(gatewayName).Inc()
			s.emitStatusChanged(ctx, tr, "FAILED")
		}
	}

	log.Info("Callback processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", string(result.Status)))
	return result, nil
}

func (s *ReconciliationService) seen(ctx context.Context, gateway, key string) bool {
	if s.markers == nil {
		return false
	}
	ok, err := s.markers.IsCallbackProcessed(ctx, gateway, key)
	if err != nil {
		s.logger.Warn("Callback marker lookup failed", zap.Error(err))
		return false
	}
	return ok
}

func (s *ReconciliationService) mark(ctx context.Context, gateway, key string) {
	if s.markers == nil {
		return
	}
	if err := s.markers.MarkCallbackProcessed(context.WithoutCancel(ctx), gateway, key, s.cfg.MarkerTTL); err != nil {
		s.logger.Warn("Failed to set callback marker", zap.Error(err))
	}
}

func (s *ReconciliationService) duplicateResult(ctx context.Context, orderID int64) (*CallbackResult, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{
		Outcome: OutcomeDuplicate,
		OrderID: order.ID,
		Status:  order.Status,
		Success: order.Status == models.OrderStatusPaid,
	}, nil
}

// markPaid is the only way into Paid. The caller holds the order lock and has
// checked the current status, so the stock and points effects run once.
func (s *ReconciliationService) markPaid(ctx context.Context, tx store.Repository, order *models.Order) (*transition, error) {
	if !order.Status.CanTransitionTo(models.OrderStatusPaid) {
		return nil, ErrInvalidTransition.Withf("order: %s cannot become PAID", order.Status)
	}

	paidAt := s.now()
	if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid, &paidAt); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if err := tx.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	lines, err := tx.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	// Product rows are locked in id order so concurrent payments cannot deadlock.
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	for _, l := range lines {
		before, err := tx.DecrementStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}
		if before < l.Quantity {
			util.StockShortfallTotal.Inc()
			s.logger.Warn("Stock shortfall on paid order",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", l.ProductID),
				zap.Int("stock", before),
				zap.Int("quantity", l.Quantity))
		}
	}

	earned := pricing.EarnedPoints(order.TotalAmount, s.cfg.PointsEarnUnit)
	if earned > 0 {
		if err := tx.AdjustPoints(ctx, order.UserID, earned); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ClearCart(ctx, order.UserID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	paid := *order
	paid.Status = models.OrderStatusPaid
	paid.PaidAt = &paidAt
	return &transition{order: paid, from: order.Status, to: models.OrderStatusPaid, earned: earned}, nil
}

// settleUnpaid moves an order into a non-paid terminal state, fails its
// pending payment and returns the redeemed points.
func (s *ReconciliationService) settleUnpaid(ctx context.Context, tx store.Repository, order *models.Order, to models.OrderStatus, reason string) (*transition, error) {
	if !order.Status.CanTransitionTo(to) {
		return nil, ErrInvalidTransition.Withf("order: %s cannot become %s", order.Status, to)
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, to, nil); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if err := tx.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusFailed); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	if order.PointsUsed > 0 {
		if err := tx.AdjustPoints(ctx, order.UserID, order.PointsUsed); err != nil {
			return nil, err
		}
	}

	next := *order
	next.Status = to
	return &transition{order: next, from: order.Status, to: to, reason: reason}, nil
}

// OrderView is an order together with its immutable children.
type OrderView struct {
	models.Order
	Lines    []models.OrderLine `json:"lines"`
	Shipping *models.Shipping   `json:"shipping,omitempty"`
	Payment  *models.Payment    `json:"payment,omitempty"`
}

// GetOrder reads one of the user's orders, expiring it first if it has been
// awaiting payment for longer than the expiry window. Orders of other users
// are reported as not found and left untouched.
func (s *ReconciliationService) GetOrder(ctx context.Context, userID, orderID int64) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.GetOrder")
	defer span.End()

	order, err := s.load(ctx, orderID)
	if err == nil && order.UserID != userID {
		err = ErrOrderNotFound.Withf("order %d not found", orderID)
	}
	if err == nil {
		order, err = s.observe(ctx, order)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	view := &OrderView{Order: *order}
	if view.Lines, err = s.store.GetOrderLines(ctx, orderID); err != nil {
		return nil, err
	}
	if view.Shipping, err = s.store.GetShipping(ctx, orderID); err != nil {
		return nil, err
	}
	pay, err := s.store.GetPaymentByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	view.Payment = pay
	return view, nil
}

// ListOrders returns the user's orders, newest first, with lazy expiry applied.
func (s *ReconciliationService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if !s.expired(&orders[i]) {
			continue
		}
		o, err := s.observe(ctx, &orders[i])
		if err != nil {
			return nil, err
		}
		orders[i] = *o
	}
	return orders, nil
}

func (s *ReconciliationService) expired(order *models.Order) bool {
	return order.Status == models.OrderStatusAwaitingPayment &&
		s.now().Sub(order.CreatedAt) > s.cfg.PaymentExpiry
}

func (s *ReconciliationService) load(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound.Withf("order %d not found", orderID)
		}
		return nil, err
	}
	return order, nil
}

// observe applies the lazy expiry transition to an order read without a lock.
func (s *ReconciliationService) observe(ctx context.Context, order *models.Order) (*models.Order, error) {
	if !s.expired(order) {
		return order, nil
	}
	orderID := order.ID

	var tr *transition
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// A callback may have settled it since the unlocked read.
		if !s.expired(locked) {
			order = locked
			return nil
		}
		tr, err = s.settleUnpaid(ctx, tx, locked, models.OrderStatusExpired, "payment window elapsed")
		return err
	})
	if err != nil {
		return nil, err
	}

	if tr != nil {
		util.OrdersExpiredTotal.Inc()
		s.logger.Info("Order expired", zap.Int64("order_id", orderID))
		s.emitStatusChanged(ctx, tr, "EXPIRED")
		return &tr.order, nil
	}
	return order, nil
}

// Cancel cancels one of the user's orders. Terminal orders are rejected with
// ErrInvalidTransition.
func (s *ReconciliationService) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.Cancel")
	defer span.End()

	var tr *transition
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound.Withf("order %d not found", orderID)
			}
			return err
		}
		if order.UserID != userID {
			return ErrOrderNotFound.Withf("order %d not found", orderID)
		}
		tr, err = s.settleUnpaid(ctx, tx, order, models.OrderStatusCancelled, "cancelled by customer")
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
	s.emitStatusChanged(ctx, tr, "CANCELLED")
	return &tr.order, nil
}

// ConfirmDelivery settles a cash-on-delivery order once the parcel is handed over.
func (s *ReconciliationService) ConfirmDelivery(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.ConfirmDelivery")
	defer span.End()

	var tr *transition
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound.Withf("order %d not found", orderID)
			}
			return err
		}
		if order.Status != models.OrderStatusAwaitingFulfillment {
			return ErrInvalidTransition.Withf("order: %s cannot be confirmed as delivered", order.Status)
		}
		tr, err = s.markPaid(ctx, tx, order)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.emitPaid(ctx, tr, payment.GatewayCOD, fmt.Sprintf("COD-%d", orderID))
	return &tr.order, nil
}

func (s *ReconciliationService) emitPaid(ctx context.Context, tr *transition, gateway, transactionID string) {
	ctx = context.WithoutCancel(ctx)
	util.OrdersPaidTotal.Inc()

	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: s.now(),
		},
		OrderID:       tr.order.ID,
		UserID:        tr.order.UserID,
		Gateway:       gateway,
		TransactionID: transactionID,
		Amount:        tr.order.TotalAmount,
		PointsAwarded: tr.earned,
	}
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", tr.order.ID), zap.Error(err))
	}

	link := s.cfg.Notices.link(tr.order.ID)
	ref := fmt.Sprint(tr.order.ID)
	s.notifier.Notify(ctx, s.cfg.Notices.AdminChannel, s.cfg.Notices.adminMessage("PAID", &tr.order), link, ref)
	s.notifier.Notify(ctx, userChannel(tr.order.UserID),
		fmt.Sprintf("Order #%d has been paid. You earned %d points.", tr.order.ID, tr.earned), link, ref)
}

func (s *ReconciliationService) emitStatusChanged(ctx context.Context, tr *transition, kind string) {
	ctx = context.WithoutCancel(ctx)

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: s.now(),
		},
		OrderID: tr.order.ID,
		From:    tr.from,
		To:      tr.to,
		Reason:  tr.reason,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", tr.order.ID), zap.Error(err))
	}

	s.notifier.Notify(ctx, s.cfg.Notices.AdminChannel,
		s.cfg.Notices.adminMessage(kind, &tr.order),
		s.cfg.Notices.link(tr.order.ID),
		fmt.Sprint(tr.order.ID))
}
