package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/shipping"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
	headerAdminKey  = "X-Admin-Token"
	ctxUserID       = "user_id"
	ctxRequestID    = "request_id"
)

type CartAPI interface {
	AddItem(ctx context.Context, userID, productID int64, quantity int, withBonus bool) (*service.CartView, error)
	UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*service.CartView, error)
	RemoveItem(ctx context.Context, userID, lineID int64) (*service.CartView, error)
	GetCart(ctx context.Context, userID int64) (*service.CartView, error)
}

type CheckoutAPI interface {
	PreviewVoucher(ctx context.Context, userID int64, code string) (*service.VoucherPreview, error)
	QuoteShipping(ctx context.Context, dest shipping.Coordinate) (*shipping.Quote, error)
	Checkout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
}

type PaymentAPI interface {
	Initiate(ctx context.Context, userID, orderID int64, clientIP string) (*payment.OutboundPayment, error)
}

type OrderAPI interface {
	HandleCallback(ctx context.Context, gateway string, cb payment.Callback) (*service.CallbackResult, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*service.OrderView, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ConfirmDelivery(ctx context.Context, orderID int64) (*models.Order, error)
}

type NotificationReader interface {
	ListNotifications(ctx context.Context, channel string, limit int) ([]models.Notification, error)
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	cart          CartAPI
	checkout      CheckoutAPI
	payments      PaymentAPI
	orders        OrderAPI
	notifications NotificationReader
	ready         map[string]ReadinessCheck
	adminToken    string
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cart CartAPI, checkout CheckoutAPI, payments PaymentAPI, orders OrderAPI, notifications NotificationReader) *Handler {
	return &Handler{
		cart:          cart,
		checkout:      checkout,
		payments:      payments,
		orders:        orders,
		notifications: notifications,
		ready:         map[string]ReadinessCheck{},
		logger:        util.Named("http"),
	}
}

// AddReadinessCheck registers a dependency probed by /ready.
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.ready[name] = check
}

// SetAdminToken sets the shared secret admin routes require. With no token
// set every admin request is refused.
func (h *Handler) SetAdminToken(token string) {
	h.adminToken = token
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(loggerMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Gateway callbacks are authenticated by signature, not by user.
	callbacks := v1.Group("/payments")
	{
		callbacks.GET("/vnpay/return", h.vnpayReturn)
		callbacks.GET("/vnpay/ipn", h.vnpayIPN)
		callbacks.GET("/momo/return", h.momoReturn)
		callbacks.POST("/momo/notify", h.momoNotify)
	}

	user := v1.Group("", requireUser())
	{
		user.GET("/cart", h.getCart)
		user.POST("/cart/items", h.addCartItem)
		user.PATCH("/cart/items/:id", h.updateCartItem)
		user.DELETE("/cart/items/:id", h.removeCartItem)

		user.POST("/checkout/voucher", h.previewVoucher)
		user.POST("/checkout/shipping-quote", h.quoteShipping)
		user.POST("/checkout", h.placeOrder)

		user.GET("/orders", h.listOrders)
		user.GET("/orders/:id", h.getOrder)
		user.POST("/orders/:id/cancel", h.cancelOrder)
		user.POST("/orders/:id/pay", h.initiatePayment)
	}

	admin := v1.Group("/admin", h.requireAdmin())
	{
		admin.POST("/orders/:id/deliver", h.confirmDelivery)
		admin.GET("/notifications", h.listNotifications)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failed": failed})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps an error's kind to a status and a stable error code.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindSignature:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidTransition:
		status = http.StatusConflict
	case apperr.KindExternal:
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": apperr.CodeOf(err), "message": message})
}

func badRequest(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": details})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// requireUser reads the caller id set by the upstream auth proxy.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(headerUserID), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "missing " + headerUserID})
			return
		}
		c.Set(ctxUserID, id)
		c.Next()
	}
}

// requireAdmin checks the back-office token in constant time.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := h.adminToken
		supplied := c.GetHeader(headerAdminKey)
		if supplied == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "missing " + headerAdminKey})
			return
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			h.logger.Warn("Rejected admin request", zap.String("path", c.FullPath()), zap.String("client_ip", c.ClientIP()), util.SecurityEvent())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "invalid " + headerAdminKey})
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(errors.New(c.Errors.String())))
			logger.Error("Request failed", fields...)
			return
		}
		logger.Info("Request", fields...)
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
