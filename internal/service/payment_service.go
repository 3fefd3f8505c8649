package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService starts online payments for orders awaiting payment.
type PaymentService struct {
	store    store.Repository
	gateways *payment.Registry
	orders   *ReconciliationService
	expiry   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewPaymentService(
	store store.Repository,
	gateways *payment.Registry,
	orders *ReconciliationService,
	expiry time.Duration,
) *PaymentService {
	return &PaymentService{
		store:    store,
		gateways: gateways,
		orders:   orders,
		expiry:   expiry,
		now:      time.Now,
		logger:   util.Named("payment"),
	}
}

// Initiate builds the signed gateway request for one of the user's orders and
// records it as an outbound gateway transaction.
func (ps *PaymentService) Initiate(ctx context.Context, userID, orderID int64, clientIP string) (*payment.OutboundPayment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	view, err := ps.orders.GetOrder(ctx, userID, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	order := view.Order
	if !order.PaymentMethod.Online() || order.Status != models.OrderStatusAwaitingPayment {
		return nil, ErrPaymentNotRequired.Withf("payment: order %d is %s via %s", order.ID, order.Status, order.PaymentMethod)
	}

	gw, err := ps.gateways.Get(string(order.PaymentMethod))
	if err != nil {
		return nil, err
	}

	out, err := gw.BuildRequest(ctx, payment.OutboundRequest{
		OrderID:   order.ID,
		Amount:    order.TotalAmount,
		OrderInfo: fmt.Sprintf("Payment for order #%d", order.ID),
		ClientIP:  clientIP,
		Now:       ps.now(),
		ExpiresAt: order.CreatedAt.Add(ps.expiry),
	})
	if err != nil {
		util.RecordError(span, err)
		util.PaymentInitiationsTotal.WithLabelValues(gw.Name(), apperr.CodeOf(err)).Inc()
		ps.logger.Warn("Payment initiation failed",
			zap.Int64("order_id", order.ID),
			zap.String("gateway", gw.Name()),
			zap.Error(err))
		return nil, err
	}

	if _, err := ps.store.InsertGatewayTransaction(ctx, &models.GatewayTransaction{
		OrderID:        order.ID,
		Gateway:        gw.Name(),
		Direction:      models.DirectionOutbound,
		RequestID:      out.RequestID,
		GatewayOrderID: out.GatewayOrderID,
		Amount:         order.TotalAmount,
		Signature:      out.Signature,
		RawPayload:     out.RawPayload,
	}); err != nil {
		return nil, fmt.Errorf("failed to record gateway request: %w", err)
	}

	util.PaymentInitiationsTotal.WithLabelValues(gw.Name(), "ok").Inc()
	ps.logger.Info("Payment initiated",
		zap.Int64("order_id", order.ID),
		zap.String("gateway", gw.Name()),
		zap.String("gateway_order_id", out.GatewayOrderID))
	return out, nil
}
