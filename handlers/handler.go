package handlers

import (
	"errors"
	"net/http"

	"jewellery-storefront/internal/auth"
	"jewellery-storefront/internal/cart"
	"jewellery-storefront/internal/orders"
	"jewellery-storefront/internal/products"
	"jewellery-storefront/internal/rates"
	"jewellery-storefront/middleware"
	"jewellery-storefront/pkg/ctxmanage"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	rates    *rates.Service
	products *products.Service
	cart     *cart.Ledger
	orders   *orders.Lifecycle
	validate *validator.Validate
}

func NewHandler(r *rates.Service, p *products.Service, c *cart.Ledger, o *orders.Lifecycle) (*Handler, error) {
	if r == nil || p == nil || c == nil || o == nil {
		return nil, errors.New("handler: rates, products, cart and orders are required")
	}
	return &Handler{
		rates:    r,
		products: p,
		cart:     c,
		orders:   o,
		validate: validator.New(),
	}, nil
}

func API(endpointPrefix, mode string, k *auth.Keys, h *Handler) (*gin.Engine, error) {
	if mode == gin.ReleaseMode || mode == gin.TestMode {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()

	m, err := middleware.NewMid(k)
	if err != nil {
		return nil, err
	}

	r.Use(middleware.Logger(), gin.Recovery())
	r.GET("/ping", healthCheck)

	v1 := r.Group(endpointPrefix)
	{
		// public catalog and rates
		v1.GET("/rates", h.CurrentRates)
		v1.GET("/products", h.ListProducts)
		v1.GET("/products/:id", h.GetProduct)

		v1.Use(m.Authentication())

		v1.PUT("/rates", m.Authorize(h.UpdateRates, auth.RoleAdmin))
		v1.DELETE("/rates/:grade", m.Authorize(h.DeactivateRate, auth.RoleAdmin))
		v1.POST("/rates/recompute", m.Authorize(h.RecomputePrices, auth.RoleAdmin))

		v1.POST("/products", m.Authorize(h.CreateProduct, auth.RoleAdmin))
		v1.PUT("/products/:id", m.Authorize(h.UpdateProduct, auth.RoleAdmin))
		v1.DELETE("/products/:id", m.Authorize(h.DeactivateProduct, auth.RoleAdmin))

		v1.GET("/cart", m.Authorize(h.GetCart, auth.RoleUser))
		v1.POST("/cart/items", m.Authorize(h.AddToCart, auth.RoleUser))
		v1.PUT("/cart/items/:productID", m.Authorize(h.UpdateCartItem, auth.RoleUser))
		v1.DELETE("/cart/items/:productID", m.Authorize(h.RemoveFromCart, auth.RoleUser))
		v1.DELETE("/cart", m.Authorize(h.ClearCart, auth.RoleUser))

		v1.POST("/orders", m.Authorize(h.PlaceOrder, auth.RoleUser))
		v1.GET("/orders", m.Authorize(h.ListOrders, auth.RoleUser, auth.RoleAdmin))
		v1.GET("/orders/:id", m.Authorize(h.GetOrder, auth.RoleUser, auth.RoleAdmin))
		v1.POST("/orders/:id/cancel", m.Authorize(h.CancelOrder, auth.RoleUser))
		v1.POST("/orders/:id/payment-evidence", m.Authorize(h.SubmitPaymentEvidence, auth.RoleUser))

		v1.PUT("/orders/:id/status", m.Authorize(h.UpdateOrderStatus, auth.RoleAdmin))
		v1.POST("/orders/:id/payment/verify", m.Authorize(h.VerifyPayment, auth.RoleAdmin))
		v1.POST("/orders/:id/payment/reject", m.Authorize(h.RejectPayment, auth.RoleAdmin))
		v1.POST("/orders/:id/payment/refund", m.Authorize(h.RefundPayment, auth.RoleAdmin))
		v1.POST("/orders/:id/payment/fail", m.Authorize(h.MarkPaymentFailed, auth.RoleAdmin))

		v1.GET("/analytics/sales", m.Authorize(h.SalesSummary, auth.RoleAdmin))
	}

	return r, nil
}

func healthCheck(c *gin.Context) {
	c.Header("X-Trace-Id", ctxmanage.GetTraceIdOfRequest(c))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
