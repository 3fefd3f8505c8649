package api

import (
	"errors"
	"io"
	"net/http"

	"checkout-service/internal/payment"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 64 << 10

// vnpayIPN answers the gateway's server-to-server notification. The gateway
// reads RspCode from a 200 response and retries on anything but 00 and 02.
func (h *Handler) vnpayIPN(c *gin.Context) {
	res, err := h.orders.HandleCallback(c.Request.Context(), payment.GatewayVNPay, payment.Callback{Params: c.Request.URL.Query()})
	code, message := vnpayRspCode(res, err)
	if code == "99" && err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, gin.H{"RspCode": code, "Message": message})
}

func vnpayRspCode(res *service.CallbackResult, err error) (string, string) {
	switch {
	case err == nil && res.Outcome == service.OutcomeApplied:
		return "00", "Confirm Success"
	case err == nil:
		return "02", "Order already confirmed"
	case errors.Is(err, service.ErrOrderNotFound):
		return "01", "Order not found"
	case errors.Is(err, service.ErrAmountMismatch):
		return "04", "Invalid amount"
	case errors.Is(err, payment.ErrSignatureMismatch):
		return "97", "Invalid signature"
	default:
		return "99", "Unknown error"
	}
}

// vnpayReturn handles the browser redirect. It applies the same verified
// result as the IPN; whichever arrives first wins.
func (h *Handler) vnpayReturn(c *gin.Context) {
	h.callbackResult(c, payment.GatewayVNPay, payment.Callback{Params: c.Request.URL.Query()})
}

func (h *Handler) momoReturn(c *gin.Context) {
	h.callbackResult(c, payment.GatewayMoMo, payment.Callback{Params: c.Request.URL.Query()})
}

// momoNotify acknowledges the IPN with 204 once it has been applied or
// recognised as a replay.
func (h *Handler) momoNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	if _, err := h.orders.HandleCallback(c.Request.Context(), payment.GatewayMoMo, payment.Callback{Body: body}); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) callbackResult(c *gin.Context, gateway string, cb payment.Callback) {
	res, err := h.orders.HandleCallback(c.Request.Context(), gateway, cb)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
