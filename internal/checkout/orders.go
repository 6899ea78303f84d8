package checkout

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

// History reads the authenticated user's past orders.
type History struct {
	gw gateway.Doer
}

func NewHistory(gw gateway.Doer) *History {
	return &History{gw: gw}
}

func (h *History) List(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := h.gw.Do(ctx, http.MethodGet, "/api/orders", nil, nil, &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
