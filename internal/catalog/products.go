package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

var ErrProductNotFound = errors.New("product not found")

// Products covers the non-paginated product operations: detail fetch,
// category list, and listing management for the authenticated seller.
type Products struct {
	gw gateway.Doer
}

func NewProducts(gw gateway.Doer) *Products {
	return &Products{gw: gw}
}

func (c *Products) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := c.gw.Do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", id), nil, nil, &product)
	if gateway.IsNotFound(err) {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

func (c *Products) Categories(ctx context.Context) ([]string, error) {
	var resp struct {
		Categories []string `json:"categories"`
	}
	if err := c.gw.Do(ctx, http.MethodGet, "/api/categories", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	return resp.Categories, nil
}

func (c *Products) Create(ctx context.Context, data domain.NewProduct) (*domain.Product, error) {
	var product domain.Product
	if err := c.gw.Do(ctx, http.MethodPost, "/api/products", nil, data, &product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &product, nil
}

func (c *Products) Update(ctx context.Context, id int64, data domain.ProductUpdate) (*domain.Product, error) {
	var product domain.Product
	err := c.gw.Do(ctx, http.MethodPut, fmt.Sprintf("/api/products/%d", id), nil, data, &product)
	if gateway.IsNotFound(err) {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return &product, nil
}

func (c *Products) Delete(ctx context.Context, id int64) error {
	err := c.gw.Do(ctx, http.MethodDelete, fmt.Sprintf("/api/products/%d", id), nil, nil, nil)
	if gateway.IsNotFound(err) {
		return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// Mine lists the authenticated user's own listings, filtered server-side
// so other sellers' products cannot leak into the view.
func (c *Products) Mine(ctx context.Context) ([]domain.Product, error) {
	query := url.Values{}
	query.Set("seller", "me")

	var page domain.ProductPage
	if err := c.gw.Do(ctx, http.MethodGet, "/api/products", query, nil, &page); err != nil {
		return nil, fmt.Errorf("list own products: %w", err)
	}
	return page.Products, nil
}
