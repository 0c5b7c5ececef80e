package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/catalog"
	"storefront-service/middlewares"
	"storefront-service/models"
	"storefront-service/profile"
)

type ProductController struct {
	catalog  *catalog.Catalog
	profiles *profile.Service
}

func NewProductController(c *catalog.Catalog, profiles *profile.Service) *ProductController {
	return &ProductController{catalog: c, profiles: profiles}
}

// ListProducts lists active products. Without a pincode query parameter a
// signed-in buyer sees what is delivered to their address.
func (pc *ProductController) ListProducts(c *gin.Context) {
	defer middlewares.RecordOperation(c, "product_list")
	q := catalog.Query{
		Pincode:  c.Query("pincode"),
		Search:   c.Query("q"),
		Category: c.Query("category"),
	}
	if q.Pincode == "" {
		if userID := middlewares.UserID(c); userID != "" {
			pincode, err := pc.profiles.DeliveryPincode(c.Request.Context(), userID)
			if err != nil {
				respondError(c, err)
				return
			}
			q.Pincode = pincode
		}
	}
	list, err := pc.catalog.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"pincode": q.Pincode, "products": list})
}

func (pc *ProductController) GetProduct(c *gin.Context) {
	p, err := pc.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
