// Package catalog serves the product listing buyers browse before adding to
// the cart: active products delivered to a pincode, with live stock.
package catalog

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"storefront-service/database"
	"storefront-service/models"
	"storefront-service/stock"
)

type Products interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
}

type StockReader interface {
	Available(ctx context.Context, productID string) (int, error)
}

// Query narrows the listing. Empty fields do not filter.
type Query struct {
	// Pincode keeps products whose coverage list includes it.
	Pincode string
	// Search matches name or description, ignoring case.
	Search   string
	Category string
}

type Catalog struct {
	products Products
	stock    StockReader
	logger   *zap.Logger
}

func New(products Products, stock StockReader, logger *zap.Logger) *Catalog {
	return &Catalog{products: products, stock: stock, logger: logger.Named("catalog")}
}

func (c *Catalog) List(ctx context.Context, q Query) ([]models.Product, error) {
	all, err := c.products.ListProducts(ctx, q.Category)
	if err != nil {
		return nil, err
	}
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.Product, 0, len(all))
	for _, p := range all {
		if !p.IsActive {
			continue
		}
		if q.Pincode != "" && !p.Delivers(q.Pincode) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			continue
		}
		c.withLiveStock(ctx, &p)
		out = append(out, p)
	}
	return out, nil
}

// Get returns an active product. Inactive products are reported as not found.
func (c *Catalog) Get(ctx context.Context, id string) (*models.Product, error) {
	p, err := c.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, database.ErrNotFound
	}
	c.withLiveStock(ctx, p)
	return p, nil
}

// withLiveStock replaces the catalogue stock figure with the oracle's. The
// stored figure is kept when the oracle cannot answer.
func (c *Catalog) withLiveStock(ctx context.Context, p *models.Product) {
	q, err := c.stock.Available(ctx, p.ID)
	switch {
	case errors.Is(err, stock.ErrUnknownProduct):
		p.Stock = 0
	case err != nil:
		c.logger.Debug("live stock unavailable", zap.String("product_id", p.ID), zap.Error(err))
	default:
		p.Stock = q
	}
}
