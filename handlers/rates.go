package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/rates"
	"jewellery-storefront/pkg/ctxmanage"
	"jewellery-storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type rateUpdateRequest struct {
	Rates []struct {
		Grade             pricing.Grade   `json:"grade" validate:"required"`
		RatePerUnit       decimal.Decimal `json:"rate_per_unit"`
		ExpectedUpdatedAt *time.Time      `json:"expected_updated_at"`
	} `json:"rates" validate:"required,min=1,dive"`
}

func (h *Handler) CurrentRates(c *gin.Context) {
	list, err := h.rates.CurrentRates(c.Request.Context(), pricing.Grade(c.Query("grade")))
	if err != nil {
		respondError(c, "failed to list rates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": list})
}

// UpdateRates persists a batch of rates and reprices the catalog once.
func (h *Handler) UpdateRates(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := claimsOf(c)
	if !ok {
		return
	}

	var req rateUpdateRequest
	if !h.bind(c, &req) {
		return
	}
	updates := make([]rates.RateUpdate, 0, len(req.Rates))
	for _, r := range req.Rates {
		updates = append(updates, rates.RateUpdate{Grade: r.Grade, RatePerUnit: r.RatePerUnit, ExpectedUpdatedAt: r.ExpectedUpdatedAt})
	}

	res, err := h.rates.UpdateRates(c.Request.Context(), claims.Subject, updates)
	if err != nil {
		respondError(c, "failed to update rates", err)
		return
	}
	if res.ProjectionError != "" || len(res.Projection.Failed) > 0 {
		slog.Warn("rates saved with stale product prices", slog.String(logkey.TraceID, traceId),
			slog.Int("failed", len(res.Projection.Failed)), slog.String(logkey.ERROR, res.ProjectionError))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeactivateRate(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	grade, err := pricing.ParseGrade(c.Param("grade"))
	if err != nil {
		respondError(c, "invalid grade", err)
		return
	}
	res, err := h.rates.DeactivateRate(c.Request.Context(), claims.Subject, grade)
	if err != nil {
		respondError(c, "failed to deactivate rate", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RecomputePrices(c *gin.Context) {
	res, err := h.rates.Recompute(c.Request.Context())
	if err != nil {
		respondError(c, "failed to recompute prices", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
