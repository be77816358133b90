package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// addToCartRequest defaults a missing quantity to one unit.
type addToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity"`
}

type cartLineRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

func (h *handlers) getCart(c *gin.Context) {
	cart, err := h.carts.Get(c.Request.Context(), sessionID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, cart)
}

func (h *handlers) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID <= 0 {
		badRequest(c, "product_id and quantity required")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	cart, err := h.carts.Add(c.Request.Context(), sessionID(c), req.ProductID, qty)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, cart)
}

func (h *handlers) updateCartLine(c *gin.Context) {
	var req cartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ItemID <= 0 {
		badRequest(c, "item_id and quantity required")
		return
	}
	cart, err := h.carts.UpdateQuantity(c.Request.Context(), sessionID(c), req.ItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, cart)
}

// removeCartLine releases quantity units; a missing or zero quantity removes
// the whole line and a negative one is a 400.
func (h *handlers) removeCartLine(c *gin.Context) {
	var req cartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ItemID <= 0 {
		badRequest(c, "item_id required")
		return
	}
	cart, err := h.carts.Remove(c.Request.Context(), sessionID(c), req.ItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, cart)
}

func (h *handlers) clearCart(c *gin.Context) {
	cart, err := h.carts.Clear(c.Request.Context(), sessionID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, cart)
}
