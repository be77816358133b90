package httpserver

import (
	"net/http"
	"strconv"

	"checkout-engine/internal/domain"
	productrepo "checkout-engine/internal/repository/product"
	"github.com/gin-gonic/gin"
)

type createProductRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

type updateProductRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents"`
}

func (h *handlers) listProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, products)
}

func (h *handlers) getProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	p, err := h.products.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

func (h *handlers) createProducts(c *gin.Context) {
	var req []createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "expected a JSON array of products")
		return
	}
	products := make([]domain.Product, 0, len(req))
	for _, r := range req {
		products = append(products, domain.Product{
			Key:            r.Key,
			Name:           r.Name,
			Description:    r.Description,
			PriceCents:     r.PriceCents,
			AvailableStock: r.Stock,
		})
	}
	created, err := h.products.CreateBulk(c.Request.Context(), products)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, created)
}

func (h *handlers) updateProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	p, err := h.products.Update(c.Request.Context(), id, productrepo.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

func (h *handlers) deleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	if err := h.products.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid product id")
		return 0, false
	}
	return id, true
}
