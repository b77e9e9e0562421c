package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/auth"
	"jewellery-storefront/internal/orders"
	"jewellery-storefront/pkg/ctxmanage"
	"jewellery-storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

type placeOrderRequest struct {
	PaymentMethod   orders.MethodKind      `json:"payment_method" validate:"required"`
	PaymentEvidence orders.PaymentEvidence `json:"payment_evidence"`
	ShippingAddress orders.Address         `json:"shipping_address"`
	BillingAddress  *orders.Address        `json:"billing_address"`
	Notes           string                 `json:"notes" validate:"max=1000"`
}

type updateStatusRequest struct {
	Status orders.OrderStatus `json:"status" validate:"required"`
}

type verifyPaymentRequest struct {
	Notes         string `json:"notes"`
	TransactionID string `json:"transaction_id"`
	Gateway       string `json:"payment_gateway"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := claimsOf(c)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !h.bind(c, &req) {
		return
	}
	method, err := orders.NewPaymentMethod(req.PaymentMethod, req.PaymentEvidence)
	if err != nil {
		respondError(c, "invalid payment method", err)
		return
	}

	o, err := h.orders.PlaceOrder(c.Request.Context(), orders.PlaceOrderRequest{
		UserID:          claims.Subject,
		IdempotencyKey:  c.GetHeader(idempotencyHeader),
		Payment:         method,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		respondError(c, "failed to place order", err)
		return
	}

	slog.Info("order placed", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, o.ID),
		slog.String(logkey.UserID, claims.Subject))
	c.JSON(http.StatusCreated, o)
}

func actorOf(claims auth.Claims) orders.Actor {
	return orders.Actor{UserID: claims.Subject, Admin: claims.HasRole(auth.RoleAdmin)}
}

func (h *Handler) GetOrder(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(c.Request.Context(), actorOf(claims), c.Param("id"))
	if err != nil {
		respondError(c, "failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	f := orders.Filter{UserID: c.Query("user_id"), Status: orders.OrderStatus(c.Query("status"))}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		respondError(c, "invalid limit", err)
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		respondError(c, "invalid offset", err)
		return
	}

	list, err := h.orders.ListOrders(c.Request.Context(), actorOf(claims), f)
	if err != nil {
		respondError(c, "failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) CancelOrder(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	o, err := h.orders.CancelOrder(c.Request.Context(), claims.Subject, c.Param("id"))
	if err != nil {
		respondError(c, "failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) SubmitPaymentEvidence(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var ev orders.PaymentEvidence
	if !h.bind(c, &ev) {
		return
	}
	o, err := h.orders.SubmitPaymentEvidence(c.Request.Context(), claims.Subject, c.Param("id"), ev)
	if err != nil {
		respondError(c, "failed to submit payment evidence", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !h.bind(c, &req) {
		return
	}
	o, err := h.orders.UpdateOrderStatus(c.Request.Context(), claims.Subject, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, "failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !h.bind(c, &req) {
		return
	}
	o, err := h.orders.VerifyPayment(c.Request.Context(), claims.Subject, c.Param("id"), orders.VerifyPaymentInput{
		Notes:         req.Notes,
		TransactionID: req.TransactionID,
		Gateway:       req.Gateway,
	})
	if err != nil {
		respondError(c, "failed to verify payment", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) RejectPayment(c *gin.Context) {
	h.withReason(c, "failed to reject payment", h.orders.RejectPayment)
}

func (h *Handler) RefundPayment(c *gin.Context) {
	h.withReason(c, "failed to refund payment", h.orders.RefundPayment)
}

func (h *Handler) MarkPaymentFailed(c *gin.Context) {
	h.withReason(c, "failed to mark payment failed", h.orders.MarkPaymentFailed)
}

type reasonAction func(ctx context.Context, adminID, id, reason string) (orders.Order, error)

func (h *Handler) withReason(c *gin.Context, msg string, action reasonAction) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.bind(c, &req) {
		return
	}
	o, err := action(c.Request.Context(), claims.Subject, c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, msg, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// SalesSummary reports totals for orders placed in [from, to). Dates are RFC 3339 or YYYY-MM-DD.
func (h *Handler) SalesSummary(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		respondError(c, "invalid from date", err)
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		respondError(c, "invalid to date", err)
		return
	}
	s, err := h.orders.SalesSummary(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, "failed to build sales summary", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, apperr.ErrInvalidArgument
	}
	return t, nil
}
