package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/middlewares"
	"storefront-service/profile"
)

type ProfileController struct {
	profiles *profile.Service
}

func NewProfileController(profiles *profile.Service) *ProfileController {
	return &ProfileController{profiles: profiles}
}

func (pc *ProfileController) GetProfile(c *gin.Context) {
	p, a, err := pc.profiles.Get(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "address": a})
}

func (pc *ProfileController) UpdateProfile(c *gin.Context) {
	defer middlewares.RecordOperation(c, "profile_update")
	var req struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
		Pincode string `json:"pincode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := pc.profiles.Update(c.Request.Context(), middlewares.UserID(c), profile.Update{
		Name: req.Name, Phone: req.Phone, Address: req.Address, Pincode: req.Pincode,
	})
	if err != nil {
		respondProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (pc *ProfileController) SaveAddress(c *gin.Context) {
	defer middlewares.RecordOperation(c, "address_save")
	var req struct {
		Address string `json:"address" binding:"required"`
		Pincode string `json:"pincode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := pc.profiles.SaveAddress(c.Request.Context(), middlewares.UserID(c), req.Address, req.Pincode)
	if err != nil {
		respondProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func respondProfileError(c *gin.Context, err error) {
	var ferr *profile.FieldError
	if errors.As(err, &ferr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ferr.Message, "field": ferr.Field})
		return
	}
	respondError(c, err)
}
