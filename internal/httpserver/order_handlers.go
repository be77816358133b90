package httpserver

import (
	"net/http"
	"strconv"

	"checkout-engine/internal/domain"
	ordersvc "checkout-engine/internal/service/order"
	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	CustomerInfo domain.CustomerInfo `json:"customer_info"`
	OrderItems   []orderItemRequest  `json:"order_items"`
	// OrderTotal is in cents.
	OrderTotal *int64 `json:"order_total"`
}

type orderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

func (h *handlers) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	in := ordersvc.CheckoutInput{
		Customer:       req.CustomerInfo,
		TotalCents:     req.OrderTotal,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	}
	if req.OrderItems != nil {
		in.Items = make([]ordersvc.ItemRequest, 0, len(req.OrderItems))
		for _, it := range req.OrderItems {
			in.Items = append(in.Items, ordersvc.ItemRequest{ProductID: it.ProductID, Qty: it.Qty})
		}
	}

	order, err := h.orders.Checkout(c.Request.Context(), sessionID(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, order)
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := h.orders.ListForSession(c.Request.Context(), sessionID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, orders)
}

func (h *handlers) getOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid order id")
		return
	}
	order, err := h.orders.GetForSession(c.Request.Context(), sessionID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}
