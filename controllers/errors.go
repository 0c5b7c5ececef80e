package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/cart"
	"storefront-service/checkout"
	"storefront-service/database"
	"storefront-service/orders"
)

// DeviceHeader identifies the buyer's device; carts and checkout sessions
// are kept per device.
const DeviceHeader = "X-Device-ID"

// FormFactorHeader selects the desktop or mobile checkout flow.
const FormFactorHeader = "X-Form-Factor"

func statusFor(err error) int {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Code == checkout.CodeUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, cart.ErrMissingDevice),
		errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrCancelUnavailable),
		errors.Is(err, checkout.ErrSlideRequired),
		errors.Is(err, orders.ErrNotCancellable),
		errors.Is(err, orders.ErrStatusRegression):
		return http.StatusConflict
	case errors.Is(err, cart.ErrNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with its matching status. Internal errors are not
// echoed to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		body["code"] = verr.Code
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		body["error"] = "Internal server error"
	}
	c.JSON(status, body)
}
