// Package cart mediates every mutation of the server-backed cart. Totals
// are never computed locally: after each successful mutation the cached
// snapshot is invalidated and re-fetched, so server-side pricing rules can
// never drift from what the client shows.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

var (
	// ErrMutationInFlight means another mutation for the same product has
	// not completed yet. Callers should disable the control and retry
	// shortly instead of queueing blindly.
	ErrMutationInFlight = errors.New("cart mutation already in flight for this product")

	ErrItemNotFound = errors.New("product not in cart")
)

type Synchronizer struct {
	gw  gateway.Doer
	log *zap.Logger
	sfg singleflight.Group // coalesces concurrent snapshot fetches

	mu       sync.Mutex
	inflight map[int64]struct{} // products with a pending mutation
	cached   *domain.Cart
	version  uint64 // bumped on invalidation; stale fetches are not cached
}

func New(gw gateway.Doer, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		gw:       gw,
		log:      log,
		inflight: map[int64]struct{}{},
	}
}

// Add puts quantity units of productID into the cart and returns the fresh
// server snapshot.
func (s *Synchronizer) Add(ctx context.Context, productID int64, quantity int) (*domain.Cart, error) {
	payload := struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}{productID, quantity}

	err := s.mutate(ctx, productID, func(ctx context.Context) error {
		return s.gw.Do(ctx, http.MethodPost, "/api/cart", nil, payload, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	return s.Snapshot(ctx)
}

// Remove deletes the productID line from the cart and returns the fresh
// server snapshot. Removing a product that is not in the cart fails with
// ErrItemNotFound and leaves the snapshot unchanged.
func (s *Synchronizer) Remove(ctx context.Context, productID int64) (*domain.Cart, error) {
	err := s.mutate(ctx, productID, func(ctx context.Context) error {
		return s.gw.Do(ctx, http.MethodDelete, fmt.Sprintf("/api/cart/%d", productID), nil, nil, nil)
	})
	if gateway.IsNotFound(err) {
		return nil, fmt.Errorf("%w: id %d", ErrItemNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("remove from cart: %w", err)
	}
	return s.Snapshot(ctx)
}

// mutate runs one cart mutation for productID, enforcing at most one
// in-flight mutation per product. The cache is invalidated only on success;
// a failed mutation leaves the last known snapshot intact.
func (s *Synchronizer) mutate(ctx context.Context, productID int64, call func(context.Context) error) error {
	s.mu.Lock()
	if _, busy := s.inflight[productID]; busy {
		s.mu.Unlock()
		return ErrMutationInFlight
	}
	s.inflight[productID] = struct{}{}
	s.mu.Unlock()

	err := call(ctx)

	s.mu.Lock()
	delete(s.inflight, productID)
	if err == nil {
		s.cached = nil
		s.version++
	}
	s.mu.Unlock()
	if err == nil {
		s.sfg.Forget("cart")
	}
	return err
}

// Snapshot returns the current cart, fetching it from the server when the
// cache is invalid. Concurrent callers share one outstanding fetch and
// receive the same result.
func (s *Synchronizer) Snapshot(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	if s.cached != nil {
		cart := s.cached
		s.mu.Unlock()
		return cart, nil
	}
	version := s.version
	s.mu.Unlock()

	v, err, shared := s.sfg.Do("cart", func() (interface{}, error) {
		var cart domain.Cart
		if err := s.gw.Do(ctx, http.MethodGet, "/api/cart", nil, nil, &cart); err != nil {
			return nil, err
		}
		return &cart, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	cart := v.(*domain.Cart)
	if shared {
		s.log.Debug("coalesced concurrent cart fetch")
	}

	s.mu.Lock()
	if s.version == version && s.cached == nil {
		s.cached = cart
	}
	s.mu.Unlock()
	return cart, nil
}

// Invalidate drops the cached snapshot so the next Snapshot call re-fetches
// from the server. Used after operations that clear the cart server-side,
// such as a successful checkout.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.version++
	s.mu.Unlock()
	// New callers must not join a fetch that predates the invalidation.
	s.sfg.Forget("cart")
}
