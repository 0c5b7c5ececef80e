package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/checkout"
	"storefront-service/middlewares"
)

type CheckoutController struct {
	sessions *checkout.Sessions
}

func NewCheckoutController(sessions *checkout.Sessions) *CheckoutController {
	return &CheckoutController{sessions: sessions}
}

func (cc *CheckoutController) session(c *gin.Context) (*checkout.Session, bool) {
	form := checkout.ParseFormFactor(c.GetHeader(FormFactorHeader))
	s, err := cc.sessions.Get(c.Request.Context(), c.GetHeader(DeviceHeader), form)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// reply writes the session snapshot, with the error when the action failed.
func reply(c *gin.Context, s *checkout.Session, err error) {
	snap := s.Snapshot()
	if err != nil {
		body := gin.H{"error": err.Error(), "checkout": snap}
		if snap.Error != nil {
			body["code"] = snap.Error.Code
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
			body["error"] = "Internal server error"
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (cc *CheckoutController) GetCheckout(c *gin.Context) {
	s, ok := cc.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// StartCheckout validates the cart and opens the desktop confirmation.
func (cc *CheckoutController) StartCheckout(c *gin.Context) {
	defer middlewares.RecordOperation(c, "checkout_start")
	s, ok := cc.session(c)
	if !ok {
		return
	}
	reply(c, s, s.Checkout(c.Request.Context(), middlewares.UserID(c)))
}

func (cc *CheckoutController) Confirm(c *gin.Context) {
	defer middlewares.RecordOperation(c, "checkout_confirm")
	s, ok := cc.session(c)
	if !ok {
		return
	}
	reply(c, s, s.Confirm(c.Request.Context()))
}

func (cc *CheckoutController) Review(c *gin.Context) {
	s, ok := cc.session(c)
	if !ok {
		return
	}
	reply(c, s, s.Review())
}

// Slide reports the slider position on mobile. Released with the slider
// short of the end snaps it back.
func (cc *CheckoutController) Slide(c *gin.Context) {
	defer middlewares.RecordOperation(c, "checkout_slide")
	var req struct {
		Position float64 `json:"position"`
		Released bool    `json:"released"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := cc.session(c)
	if !ok {
		return
	}
	err := s.Slide(c.Request.Context(), middlewares.UserID(c), req.Position)
	if err == nil && req.Released {
		s.ReleaseSlider()
	}
	reply(c, s, err)
}

func (cc *CheckoutController) Cancel(c *gin.Context) {
	defer middlewares.RecordOperation(c, "checkout_cancel")
	s, ok := cc.session(c)
	if !ok {
		return
	}
	reply(c, s, s.Cancel())
}

func (cc *CheckoutController) ViewOrders(c *gin.Context) {
	s, ok := cc.session(c)
	if !ok {
		return
	}
	ids, err := s.ViewOrders()
	if err != nil {
		reply(c, s, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderIds": ids, "checkout": s.Snapshot()})
}
