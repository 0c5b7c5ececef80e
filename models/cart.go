package models

import (
	"github.com/shopspring/decimal"
)

// CartItem holds a copy of the product taken when it was added; the copy is
// not refreshed when the live stock changes.
type CartItem struct {
	ProductID string   `json:"productId"`
	Product   *Product `json:"product"`
	Quantity  int      `json:"quantity"`
}

// Valid reports whether the entry can be restored from persisted state.
func (i CartItem) Valid() bool {
	return i.ProductID != "" && i.Product != nil && i.Quantity > 0
}

func (i CartItem) Subtotal() decimal.Decimal {
	if i.Product == nil {
		return decimal.Zero
	}
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type UserProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
	Role    string `json:"role"`
}

// UserAddress is a saved delivery address; when present it takes precedence
// over the free-text address on the profile.
type UserAddress struct {
	UserID  string `json:"userId"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
}
