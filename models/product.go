package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalogue entry as the storefront sees it. Stock is owned
// by the stock oracle; the copy held here may be stale.
type Product struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Category        string           `json:"category"`
	Unit            string           `json:"unit"`
	Price           decimal.Decimal  `json:"price"`
	OriginalPrice   *decimal.Decimal `json:"originalPrice,omitempty"`
	Stock           int              `json:"stock"`
	Images          []string         `json:"images"`
	SellerID        string           `json:"sellerId"`
	SellerName      string           `json:"sellerName"`
	SellerAddress   string           `json:"sellerAddress"`
	SellerPincode   string           `json:"sellerPincode"`
	CoveredPincodes []string         `json:"coveredPincodes"`
	IsActive        bool             `json:"isActive"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// HasDiscount reports whether the original price is shown struck through.
func (p Product) HasDiscount() bool {
	return p.OriginalPrice != nil && p.OriginalPrice.GreaterThan(p.Price)
}

// DiscountPercent is the rounded percentage saved against the original price.
func (p Product) DiscountPercent() int64 {
	if !p.HasDiscount() || p.OriginalPrice.IsZero() {
		return 0
	}
	saved := p.OriginalPrice.Sub(p.Price)
	return saved.Div(*p.OriginalPrice).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Delivers reports whether pincode is in the product's coverage list.
func (p Product) Delivers(pincode string) bool {
	for _, pc := range p.CoveredPincodes {
		if pc == pincode {
			return true
		}
	}
	return false
}
