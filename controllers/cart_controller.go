package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront-service/cart"
	"storefront-service/middlewares"
	"storefront-service/models"
)

type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

type CartController struct {
	carts    *cart.Registry
	products ProductLookup
}

func NewCartController(carts *cart.Registry, products ProductLookup) *CartController {
	return &CartController{carts: carts, products: products}
}

type cartView struct {
	DeviceID    string            `json:"deviceId"`
	Items       []models.CartItem `json:"items"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	TotalItems  int               `json:"totalItems"`
}

func viewOf(s *cart.Store) cartView {
	items := s.Items()
	if items == nil {
		items = []models.CartItem{}
	}
	return cartView{
		DeviceID:    s.DeviceID(),
		Items:       items,
		TotalAmount: s.TotalAmount(),
		TotalItems:  s.TotalItems(),
	}
}

func (cc *CartController) store(c *gin.Context) (*cart.Store, bool) {
	s, err := cc.carts.Get(c.Request.Context(), c.GetHeader(DeviceHeader))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

func (cc *CartController) GetCart(c *gin.Context) {
	s, ok := cc.store(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (cc *CartController) AddItem(c *gin.Context) {
	defer middlewares.RecordOperation(c, "cart_add")
	var req struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := cc.store(c)
	if !ok {
		return
	}

	product, err := cc.products.GetProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !product.IsActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Product is not available"})
		return
	}
	if err := s.AddToCart(c.Request.Context(), *product, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

// UpdateItem sets the quantity of a cart entry; zero removes it.
func (cc *CartController) UpdateItem(c *gin.Context) {
	defer middlewares.RecordOperation(c, "cart_update")
	var req struct {
		Quantity *int `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := cc.store(c)
	if !ok {
		return
	}
	if err := s.UpdateQuantity(c.Request.Context(), c.Param("productId"), *req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (cc *CartController) RemoveItem(c *gin.Context) {
	s, ok := cc.store(c)
	if !ok {
		return
	}
	if err := s.RemoveFromCart(c.Request.Context(), c.Param("productId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (cc *CartController) ClearCart(c *gin.Context) {
	s, ok := cc.store(c)
	if !ok {
		return
	}
	if err := s.ClearCart(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}
