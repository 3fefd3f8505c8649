package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultNotificationLimit = 50

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), userID(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), userID(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) initiatePayment(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	out, err := h.payments.Initiate(c.Request.Context(), userID(c), orderID, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.ConfirmDelivery(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listNotifications(c *gin.Context) {
	channel := c.DefaultQuery("channel", "admins")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultNotificationLimit)))
	if err != nil || limit <= 0 || limit > 500 {
		badRequest(c, "invalid limit")
		return
	}

	items, err := h.notifications.ListNotifications(c.Request.Context(), channel, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}
