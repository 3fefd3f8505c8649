package api

import (
	"net/http"

	"checkout-service/internal/service"
	"checkout-service/internal/shipping"

	"github.com/gin-gonic/gin"
)

type voucherRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) previewVoucher(c *gin.Context) {
	var req voucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	preview, err := h.checkout.PreviewVoucher(c.Request.Context(), userID(c), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) quoteShipping(c *gin.Context) {
	var dest shipping.Coordinate
	if err := c.ShouldBindJSON(&dest); err != nil {
		badRequest(c, err.Error())
		return
	}

	quote, err := h.checkout.QuoteShipping(c.Request.Context(), dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// placeOrder accepts no amounts from the client; everything is recomputed.
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.UserID = userID(c)

	resp, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
