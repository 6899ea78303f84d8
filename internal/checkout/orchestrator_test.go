package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

// mockDoer implements gateway.Doer, capturing request bodies.
type mockDoer struct {
	mu      sync.Mutex
	calls   []string
	bodies  []any
	handler func(method, path string, body, out any) error
}

func (m *mockDoer) Do(_ context.Context, method, path string, _ url.Values, body, out any) error {
	m.mu.Lock()
	m.calls = append(m.calls, method+" "+path)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	return m.handler(method, path, body, out)
}

func (m *mockDoer) callCount(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == route {
			n++
		}
	}
	return n
}

// mockCartSource implements CartSource.
type mockCartSource struct {
	mu          sync.Mutex
	cart        *domain.Cart
	err         error
	invalidated int
}

func (m *mockCartSource) Snapshot(context.Context) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart, m.err
}

func (m *mockCartSource) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

func (m *mockCartSource) invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidated
}

func filledCart() *domain.Cart {
	return &domain.Cart{
		ID:          1,
		Items:       []domain.CartItem{{ProductID: 1, Quantity: 2, ProductPrice: 99.99, TotalPrice: 199.98}},
		TotalItems:  2,
		TotalAmount: 199.98,
	}
}

func completeDraft() domain.ShippingDetails {
	return domain.ShippingDetails{
		Address: "1 Green Way",
		City:    "Portland",
		State:   "OR",
		Zip:     "97201",
		Country: "US",
	}
}

func okOrderHandler(order domain.Order) func(method, path string, body, out any) error {
	return func(method, path string, body, out any) error {
		*out.(*domain.Order) = order
		return nil
	}
}

func TestBegin_RejectsEmptyCartWithoutNetworkCall(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		t.Fatal("no order request may be issued for an empty cart")
		return nil
	}}
	cart := &mockCartSource{cart: &domain.Cart{}}
	o := New(gw, cart, nil)

	err := o.Begin(context.Background())

	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, domain.CheckoutStateIdle, o.State())
	assert.Empty(t, gw.calls)
}

func TestSubmit_RequiresAllShippingFields(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		t.Fatal("an incomplete draft must not reach the network")
		return nil
	}}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))

	draft := completeDraft()
	draft.Zip = ""
	require.NoError(t, o.SetShipping(draft))

	_, err := o.Submit(context.Background())

	assert.ErrorIs(t, err, ErrIncompleteDraft)
	assert.Equal(t, domain.CheckoutStateDrafting, o.State(), "the machine stays in Drafting")
	assert.Equal(t, draft, o.Draft())
}

func TestSubmit_SucceedsAndInvalidatesCart(t *testing.T) {
	want := domain.Order{ID: 77, Status: "pending", TotalAmount: 199.98}
	gw := &mockDoer{handler: okOrderHandler(want)}
	cart := &mockCartSource{cart: filledCart()}
	o := New(gw, cart, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	order, err := o.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, want.ID, order.ID)
	assert.Equal(t, domain.CheckoutStateSucceeded, o.State())
	assert.Equal(t, 1, cart.invalidations(), "the server cleared the cart; the cache must be dropped")

	got, ok := o.Order()
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
}

func TestSubmit_FailurePreservesDraftForRetry(t *testing.T) {
	fail := true
	gw := &mockDoer{}
	gw.handler = func(method, path string, body, out any) error {
		if fail {
			return &gateway.Error{Kind: gateway.KindServer, Status: http.StatusInternalServerError}
		}
		return okOrderHandler(domain.Order{ID: 78})(method, path, body, out)
	}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	_, err := o.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.CheckoutStateFailed, o.State())
	assert.Equal(t, completeDraft(), o.Draft(), "the user is not forced to retype")
	assert.Error(t, o.FailureReason())

	fail = false
	order, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(78), order.ID)
	assert.Equal(t, domain.CheckoutStateSucceeded, o.State())
}

func TestSubmit_RetryReusesIdempotencyKey(t *testing.T) {
	attempt := 0
	gw := &mockDoer{}
	gw.handler = func(method, path string, body, out any) error {
		attempt++
		if attempt == 1 {
			return &gateway.Error{Kind: gateway.KindNetwork}
		}
		return okOrderHandler(domain.Order{ID: 79})(method, path, body, out)
	}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	_, err := o.Submit(context.Background())
	require.Error(t, err)
	_, err = o.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, gw.bodies, 2)
	assert.Equal(t, idemKeyOf(t, gw.bodies[0]), idemKeyOf(t, gw.bodies[1]),
		"a retried draft must not be able to create a second order")
}

func idemKeyOf(t *testing.T, body any) string {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var payload struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.NotEmpty(t, payload.IdempotencyKey)
	return payload.IdempotencyKey
}

func TestSubmit_DoubleSubmitCreatesOneOrder(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var posts atomic.Int64
	gw := &mockDoer{}
	gw.handler = func(method, path string, body, out any) error {
		posts.Add(1)
		close(entered)
		<-release
		return okOrderHandler(domain.Order{ID: 80})(method, path, body, out)
	}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Submit(context.Background())
		assert.NoError(t, err)
	}()
	<-entered

	_, err := o.Submit(context.Background()) // the double click
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	wg.Wait()
	assert.Equal(t, int64(1), posts.Load(), "exactly one order-creation request")
}

func TestCancel_ReturnsToIdle(t *testing.T) {
	o := New(&mockDoer{handler: func(string, string, any, any) error { return nil }},
		&mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	require.NoError(t, o.Cancel())

	assert.Equal(t, domain.CheckoutStateIdle, o.State())
	assert.Equal(t, domain.ShippingDetails{}, o.Draft())
}

func TestCancel_RejectedWhileSubmitting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &mockDoer{}
	gw.handler = func(method, path string, body, out any) error {
		close(entered)
		<-release
		return okOrderHandler(domain.Order{ID: 81})(method, path, body, out)
	}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Submit(context.Background())
		assert.NoError(t, err)
	}()
	<-entered

	assert.ErrorIs(t, o.Cancel(), ErrIllegalTransition)

	close(release)
	wg.Wait()
}

func TestBegin_AllowsNewDraftAfterSuccess(t *testing.T) {
	gw := &mockDoer{handler: okOrderHandler(domain.Order{ID: 82})}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)
	require.NoError(t, o.Begin(context.Background()))
	require.NoError(t, o.SetShipping(completeDraft()))
	_, err := o.Submit(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Begin(context.Background()))

	assert.Equal(t, domain.CheckoutStateDrafting, o.State())
	assert.Equal(t, domain.ShippingDetails{}, o.Draft(), "a new draft starts clean")
	_, ok := o.Order()
	assert.False(t, ok)
}

func TestSubmit_RejectedFromIdle(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		t.Fatal("no request may be issued from Idle")
		return nil
	}}
	o := New(gw, &mockCartSource{cart: filledCart()}, nil)

	_, err := o.Submit(context.Background())

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Empty(t, gw.calls)
}
