package handlers

import (
	"log/slog"
	"net/http"

	"jewellery-storefront/pkg/ctxmanage"
	"jewellery-storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type addToCartRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) GetCart(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	cart, err := h.cart.Get(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, "failed to get cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) AddToCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := claimsOf(c)
	if !ok {
		return
	}

	var req addToCartRequest
	if !h.bind(c, &req) {
		return
	}

	cart, err := h.cart.AddItem(c.Request.Context(), claims.Subject, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, "error adding product to cart", err)
		return
	}

	slog.Info("product added to cart", slog.String(logkey.TraceID, traceId),
		slog.String("ProductID", req.ProductID), slog.Int("Quantity", req.Quantity), slog.String(logkey.UserID, claims.Subject))
	c.JSON(http.StatusOK, cart)
}

// UpdateCartItem sets a line's quantity; zero or less removes the line.
func (h *Handler) UpdateCartItem(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !h.bind(c, &req) {
		return
	}
	cart, err := h.cart.UpdateQuantity(c.Request.Context(), claims.Subject, c.Param("productID"), req.Quantity)
	if err != nil {
		respondError(c, "error updating cart item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) RemoveFromCart(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	cart, err := h.cart.RemoveItem(c.Request.Context(), claims.Subject, c.Param("productID"))
	if err != nil {
		respondError(c, "error removing cart item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) ClearCart(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	cart, err := h.cart.Clear(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, "error clearing cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}
