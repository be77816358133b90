package httpserver

import (
	"net/http"
	"time"

	"checkout-engine/internal/realtime"
	cartsvc "checkout-engine/internal/service/cart"
	ordersvc "checkout-engine/internal/service/order"
	productsvc "checkout-engine/internal/service/product"
	"checkout-engine/internal/service/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Deps are the services behind the API. Hub and Ready are optional.
type Deps struct {
	Logger      *zerolog.Logger
	Carts       *cartsvc.Service
	Orders      *ordersvc.Service
	Products    *productsvc.Service
	Sessions    *session.Service
	Hub         *realtime.Hub
	Ready       []ReadyCheck
	CORSOrigins []string
}

func (d Deps) logger() zerolog.Logger {
	if d.Logger == nil {
		return zerolog.Nop()
	}
	return d.Logger.With().Str("component", "http").Logger()
}

// buildRouter wires routes for the API.
func buildRouter(deps Deps) *gin.Engine {
	logger := deps.logger()
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.New()
	}

	router := gin.New()
	router.Use(requestLogger(logger), recovery(logger))
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", sessionHeader, idempotencyHeader},
			ExposeHeaders:    []string{sessionHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ready))
	if deps.Hub != nil {
		router.GET("/ws", deps.Hub.Handler())
	}

	h := &handlers{carts: deps.Carts, orders: deps.Orders, products: deps.Products, logger: logger}

	products := router.Group("/products")
	products.GET("", h.listProducts)
	products.GET("/:id", h.getProduct)
	products.POST("/bulk", h.createProducts)
	products.PUT("/:id", h.updateProduct)
	products.DELETE("/:id", h.deleteProduct)

	scoped := router.Group("/", sessionMiddleware(sessions))
	scoped.GET("/cart", h.getCart)
	scoped.POST("/cart/add", h.addToCart)
	scoped.PUT("/cart/update", h.updateCartLine)
	scoped.DELETE("/cart/remove", h.removeCartLine)
	scoped.POST("/cart/clear", h.clearCart)

	scoped.POST("/orders/create", h.createOrder)
	scoped.GET("/orders", h.listOrders)
	scoped.GET("/orders/:id", h.getOrder)

	return router
}

type handlers struct {
	carts    *cartsvc.Service
	orders   *ordersvc.Service
	products *productsvc.Service
	logger   zerolog.Logger
}
