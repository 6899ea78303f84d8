package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofinds/marketclient/internal/apitest"
	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

type staticTokens struct {
	token string
}

func (s *staticTokens) Token(context.Context) (string, error) {
	return s.token, nil
}

func TestCartFlow_AddAndRemoveAgainstServer(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()

	token := srv.SeedUser("buyer@example.com", "hunter2", "buyer")
	productID := srv.SeedProduct(domain.Product{Name: "bamboo chair", Price: 99.99, Category: "furniture"})

	gw, err := gateway.New(gateway.Config{BaseURL: srv.URL(), Tokens: &staticTokens{token: token}})
	require.NoError(t, err)
	s := New(gw, nil)
	ctx := context.Background()

	cart, err := s.Add(ctx, productID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.TotalItems)
	assert.InDelta(t, 199.98, cart.TotalAmount, 1e-9)

	line, ok := cart.Item(productID)
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	assert.InDelta(t, 99.99, line.ProductPrice, 1e-9)

	cart, err = s.Remove(ctx, productID)
	require.NoError(t, err)
	assert.True(t, cart.Empty())
	assert.Zero(t, cart.TotalItems)
	assert.Zero(t, cart.TotalAmount)

	_, err = s.Remove(ctx, productID)
	assert.ErrorIs(t, err, ErrItemNotFound, "removing from an empty cart is a not-found failure")
}
