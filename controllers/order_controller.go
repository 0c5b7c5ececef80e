package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront-service/middlewares"
	"storefront-service/models"
	"storefront-service/orders"
)

// Roles allowed to move an order along its delivery status.
const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

type OrderController struct {
	svc    *orders.Service
	logger *zap.Logger
}

func NewOrderController(svc *orders.Service, logger *zap.Logger) *OrderController {
	return &OrderController{svc: svc, logger: logger.Named("orders-api")}
}

func (oc *OrderController) GetUserOrders(c *gin.Context) {
	defer middlewares.RecordOperation(c, "list")
	list, err := oc.svc.ListForCustomer(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (oc *OrderController) GetOrderDetails(c *gin.Context) {
	defer middlewares.RecordOperation(c, "details")
	o, err := oc.svc.GetForCustomer(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (oc *OrderController) GetTimeline(c *gin.Context) {
	o, err := oc.svc.GetForCustomer(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timeline":     orders.BuildTimeline(o),
		"notification": orders.StatusMessage(o),
	})
}

// UpdateOrderStatus is for sellers, on their own orders, and admins.
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer middlewares.RecordOperation(c, "update_status")
	var request struct {
		Status models.OrderStatus `json:"status" binding:"required,oneof=packed out_for_delivery delivered"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := middlewares.Role(c)
	if role != RoleSeller && role != RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only sellers can update order status"})
		return
	}
	ctx := c.Request.Context()
	orderID := c.Param("id")
	if role == RoleSeller {
		o, err := oc.svc.Get(ctx, orderID)
		if err != nil {
			respondError(c, err)
			return
		}
		if o.SellerID != middlewares.UserID(c) {
			respondError(c, orders.ErrForbidden)
			return
		}
	}

	o, err := oc.svc.UpdateStatus(ctx, orderID, request.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": o})
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	defer middlewares.RecordOperation(c, "cancel")
	o, err := oc.svc.Cancel(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": o})
}

// HandleDeadLetter 死信队列处理函数
func (oc *OrderController) HandleDeadLetter(c *gin.Context) {
	defer middlewares.RecordOperation(c, "dead_letter")

	var deadLetter struct {
		OrderID string `json:"order_id" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&deadLetter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oc.logger.Error("dead letter reported",
		zap.String("order_id", deadLetter.OrderID), zap.String("reason", deadLetter.Reason))
	c.JSON(http.StatusOK, gin.H{"message": "Dead letter processed"})
}
