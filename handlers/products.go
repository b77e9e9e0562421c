package handlers

import (
	"net/http"
	"strconv"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/products"

	"github.com/gin-gonic/gin"
)

// ListProducts serves the storefront listing; only active products are shown.
func (h *Handler) ListProducts(c *gin.Context) {
	f := products.Filter{Grade: pricing.Grade(c.Query("grade")), ActiveOnly: true}
	if v := c.Query("featured"); v != "" {
		featured, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, "invalid featured filter", apperr.ErrInvalidArgument)
			return
		}
		f.Featured = &featured
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		respondError(c, "invalid limit", err)
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		respondError(c, "invalid offset", err)
		return
	}

	list, err := h.products.ListProducts(c.Request.Context(), f)
	if err != nil {
		respondError(c, "failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list})
}

func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "failed to get product", err)
		return
	}
	if !p.Active {
		respondError(c, "product is inactive", apperr.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateProduct(c *gin.Context) {
	// product payloads are small; anything larger is not a product
	if c.Request.ContentLength > 16*1024 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body too large."})
		return
	}
	var np products.NewProduct
	if !h.bind(c, &np) {
		return
	}
	p, err := h.products.CreateProduct(c.Request.Context(), np)
	if err != nil {
		respondError(c, "failed to create product", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(c *gin.Context) {
	var u products.ProductUpdate
	if !h.bind(c, &u) {
		return
	}
	p, err := h.products.UpdateProduct(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		respondError(c, "failed to update product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivateProduct(c *gin.Context) {
	p, err := h.products.DeactivateProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "failed to deactivate product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.ErrInvalidArgument
	}
	return n, nil
}
