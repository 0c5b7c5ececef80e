package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-service/middlewares"
)

type Handlers struct {
	Products *ProductController
	Profile  *ProfileController
	Cart     *CartController
	Checkout *CheckoutController
	Orders   *OrderController
}

// RegisterRoutes mounts the storefront API on r.
func RegisterRoutes(r *gin.Engine, jwtSecret string, h Handlers) {
	// 应用Prometheus中间件
	r.Use(middlewares.PrometheusMiddleware())

	// 暴露Prometheus指标端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 健康检查端点
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// guests can fill a cart; checkout reports them as unauthenticated
	guest := r.Group("/api")
	guest.Use(middlewares.OptionalAuth(jwtSecret))
	{
		guest.GET("/products", h.Products.ListProducts)
		guest.GET("/products/:id", h.Products.GetProduct)

		guest.GET("/cart", h.Cart.GetCart)
		guest.POST("/cart/items", h.Cart.AddItem)
		guest.PUT("/cart/items/:productId", h.Cart.UpdateItem)
		guest.DELETE("/cart/items/:productId", h.Cart.RemoveItem)
		guest.DELETE("/cart", h.Cart.ClearCart)

		guest.GET("/checkout", h.Checkout.GetCheckout)
		guest.POST("/checkout", h.Checkout.StartCheckout)
		guest.POST("/checkout/confirm", h.Checkout.Confirm)
		guest.POST("/checkout/review", h.Checkout.Review)
		guest.POST("/checkout/slide", h.Checkout.Slide)
		guest.POST("/checkout/cancel", h.Checkout.Cancel)
		guest.POST("/checkout/view-orders", h.Checkout.ViewOrders)
	}

	// 需要认证的路由组
	authGroup := r.Group("/api")
	authGroup.Use(middlewares.AuthMiddleware(jwtSecret))
	{
		authGroup.GET("/profile", h.Profile.GetProfile)
		authGroup.PUT("/profile", h.Profile.UpdateProfile)
		authGroup.PUT("/profile/address", h.Profile.SaveAddress)

		authGroup.GET("/orders", h.Orders.GetUserOrders)
		authGroup.GET("/orders/:id", h.Orders.GetOrderDetails)
		authGroup.GET("/orders/:id/timeline", h.Orders.GetTimeline)
		authGroup.PUT("/orders/:id/status", h.Orders.UpdateOrderStatus)
		authGroup.POST("/orders/:id/cancel", h.Orders.CancelOrder)
	}

	// 死信队列处理端点
	r.POST("/dead-letter", h.Orders.HandleDeadLetter)
}
