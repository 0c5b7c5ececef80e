package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storefront-service/database"
	"storefront-service/models"
)

const (
	CodeUnauthenticated     = "unauthenticated"
	CodeMissingName         = "missing_name"
	CodeMissingPhone        = "missing_phone"
	CodeMissingAddress      = "missing_address"
	CodeMissingPincode      = "missing_pincode"
	CodeEmptyCart           = "empty_cart"
	CodeInsufficientStock   = "insufficient_stock"
	CodeNoDeliveryInfo      = "no_delivery_info"
	CodeDeliveryUnavailable = "delivery_unavailable"
)

// ValidationError is a problem the buyer can fix: the checkout does not
// proceed and the cart is kept.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ProfileSource resolves the buyer's identity and delivery address.
type ProfileSource interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetUserAddress(ctx context.Context, userID string) (*models.UserAddress, error)
}

// StockVerifier confirms a quantity is available right now.
type StockVerifier interface {
	IsProductInStock(ctx context.Context, productID string, quantity int) (bool, error)
}

// Customer is the buyer as the orders will record them.
type Customer struct {
	ID      string
	Name    string
	Phone   string
	Address string
	Pincode string
}

type Validator struct {
	profiles ProfileSource
	stock    StockVerifier
	logger   *zap.Logger
	// perItem checks the coverage of every product instead of the first
	// product of each seller.
	perItem bool
}

func NewValidator(profiles ProfileSource, stock StockVerifier, perItemCoverage bool, logger *zap.Logger) *Validator {
	return &Validator{profiles: profiles, stock: stock, perItem: perItemCoverage, logger: logger.Named("validator")}
}

// Validate runs the checks in order and returns the first failure as a
// *ValidationError. Other errors come from the collaborators.
func (v *Validator) Validate(ctx context.Context, userID string, items []models.CartItem) (*Customer, error) {
	if userID == "" {
		return nil, invalid(CodeUnauthenticated, "User not authenticated")
	}

	customer, err := v.customer(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case customer.Name == "":
		return nil, invalid(CodeMissingName, "Name is required in profile")
	case customer.Phone == "":
		return nil, invalid(CodeMissingPhone, "Phone number is required in profile")
	case customer.Address == "":
		return nil, invalid(CodeMissingAddress, "Address is required in profile")
	case customer.Pincode == "":
		return nil, invalid(CodeMissingPincode, "PIN code is required in profile")
	}

	if len(items) == 0 {
		return nil, invalid(CodeEmptyCart, "Your cart is empty")
	}

	for _, it := range items {
		ok, err := v.stock.IsProductInStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("stock check for %s: %w", it.ProductID, err)
		}
		if !ok {
			return nil, invalid(CodeInsufficientStock, "%s is out of stock or insufficient quantity available", it.Product.Name)
		}
	}

	for _, g := range groupBySeller(items) {
		if err := v.checkCoverage(g, customer.Pincode); err != nil {
			return nil, err
		}
	}
	return customer, nil
}

func (v *Validator) customer(ctx context.Context, userID string) (*Customer, error) {
	c := &Customer{ID: userID}
	profile, err := v.profiles.GetUserProfile(ctx, userID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	case profile != nil:
		c.Name = strings.TrimSpace(profile.Name)
		c.Phone = strings.TrimSpace(profile.Phone)
		c.Address = strings.TrimSpace(profile.Address)
		c.Pincode = strings.TrimSpace(profile.Pincode)
	}

	addr, err := v.profiles.GetUserAddress(ctx, userID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load address: %w", err)
	case addr != nil && strings.TrimSpace(addr.Address) != "":
		c.Address = strings.TrimSpace(addr.Address)
		if pc := strings.TrimSpace(addr.Pincode); pc != "" {
			c.Pincode = pc
		}
	}
	return c, nil
}

func (v *Validator) checkCoverage(g sellerGroup, pincode string) error {
	seller := g.displayName()
	if v.perItem {
		for _, it := range g.Items {
			if len(it.Product.CoveredPincodes) == 0 {
				return invalid(CodeNoDeliveryInfo, "Products from %s don't have delivery information.", seller)
			}
			if !it.Product.Delivers(pincode) {
				return invalid(CodeDeliveryUnavailable, "Delivery not available to PIN code %s for products from %s", pincode, seller)
			}
		}
		return nil
	}

	first := g.Items[0].Product
	if len(first.CoveredPincodes) == 0 {
		return invalid(CodeNoDeliveryInfo, "Products from %s don't have delivery information.", seller)
	}
	if !sameCoverage(g.Items) {
		v.logger.Warn("seller products disagree on delivery coverage; checking the first product only",
			zap.String("seller_id", g.SellerID))
	}
	if !first.Delivers(pincode) {
		return invalid(CodeDeliveryUnavailable, "Delivery not available to PIN code %s for products from %s", pincode, seller)
	}
	return nil
}

func sameCoverage(items []models.CartItem) bool {
	key := func(p *models.Product) string {
		pcs := append([]string(nil), p.CoveredPincodes...)
		sort.Strings(pcs)
		return strings.Join(pcs, ",")
	}
	want := key(items[0].Product)
	for _, it := range items[1:] {
		if key(it.Product) != want {
			return false
		}
	}
	return true
}

type sellerGroup struct {
	SellerID string
	Items    []models.CartItem
}

func (g sellerGroup) displayName() string {
	if n := g.Items[0].Product.SellerName; n != "" {
		return n
	}
	return g.SellerID
}

// groupBySeller partitions items by seller, in the order each seller first
// appears in the cart.
func groupBySeller(items []models.CartItem) []sellerGroup {
	var groups []sellerGroup
	index := make(map[string]int)
	for _, it := range items {
		i, ok := index[it.Product.SellerID]
		if !ok {
			i = len(groups)
			index[it.Product.SellerID] = i
			groups = append(groups, sellerGroup{SellerID: it.Product.SellerID})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}
