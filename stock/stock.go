// Package stock defines the contracts of the authoritative stock source and
// a manager that keeps a live view of it for the cart and checkout.
//
// Nothing here reserves stock. Every check is a read followed by an action,
// so two buyers can race for the last unit; the decrement is the only
// enforcement point.
package stock

import (
	"context"
	"errors"

	"storefront-service/models"
)

var ErrUnknownProduct = errors.New("unknown product")

// Oracle reports the current available quantity of products.
type Oracle interface {
	GetStock(ctx context.Context, productID string) (int, error)
	// Subscribe calls onChange whenever the quantity of one of productIDs
	// changes. The returned func stops the subscription.
	Subscribe(ctx context.Context, productIDs []string, onChange func(productID string, quantity int)) (func(), error)
}

// Adjuster changes stock on behalf of an order. Both calls are keyed by
// orderID and applying the same order twice has no further effect.
type Adjuster interface {
	DecrementStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error)
	RestoreStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error)
}
