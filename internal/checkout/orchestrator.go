// Package checkout drives the cart-to-order transition through a linear
// state machine: Idle -> Drafting -> Submitting -> {Succeeded, Failed}.
// Failed returns to Drafting so the user can retry with the same draft;
// Succeeded is terminal for the draft.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

var (
	ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

	// ErrIncompleteDraft means one or more shipping fields are still blank.
	// The machine stays in Drafting and no request is sent.
	ErrIncompleteDraft = errors.New("all shipping fields are required")

	// ErrSubmitInFlight rejects a second submit while one is pending, so a
	// double click cannot create two orders.
	ErrSubmitInFlight = errors.New("order submission already in flight")

	ErrIllegalTransition = errors.New("illegal checkout state transition")
)

// CartSource is the slice of the cart synchronizer the orchestrator needs:
// the confirmed snapshot to validate entry, and invalidation after the
// server clears the cart on a successful order.
type CartSource interface {
	Snapshot(ctx context.Context) (*domain.Cart, error)
	Invalidate()
}

type Orchestrator struct {
	gw   gateway.Doer
	cart CartSource
	log  *zap.Logger

	mu      sync.Mutex
	state   domain.CheckoutState
	draft   domain.ShippingDetails
	idemKey string
	order   *domain.Order
	reason  error
}

func New(gw gateway.Doer, cart CartSource, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		gw:    gw,
		cart:  cart,
		log:   log,
		state: domain.CheckoutStateIdle,
	}
}

// Begin enters Drafting. It requires a non-empty cart snapshot; beginning
// checkout over an empty cart is rejected.
func (o *Orchestrator) Begin(ctx context.Context) error {
	snapshot, err := o.cart.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read cart: %w", err)
	}
	if snapshot.Empty() {
		return ErrEmptyCart
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !domain.CanTransitionTo(o.state, domain.CheckoutStateDrafting) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.state, domain.CheckoutStateDrafting)
	}
	o.state = domain.CheckoutStateDrafting
	o.draft = domain.ShippingDetails{}
	o.order = nil
	o.reason = nil
	// One idempotency key per draft: a retry after Failed reuses it, so the
	// server cannot create a second order from the same checkout.
	o.idemKey = uuid.NewString()
	return nil
}

// SetShipping updates the draft. Allowed in Drafting and Failed (editing
// before a retry); rejected otherwise.
func (o *Orchestrator) SetShipping(details domain.ShippingDetails) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != domain.CheckoutStateDrafting && o.state != domain.CheckoutStateFailed {
		return fmt.Errorf("%w: cannot edit draft in state %s", ErrIllegalTransition, o.state)
	}
	o.draft = details
	return nil
}

// Submit issues exactly one order-creation request. On success the machine
// reaches Succeeded and the cart cache is invalidated (the server clears
// the cart as part of order creation). On failure the machine enters
// Failed with the draft preserved so the user is not forced to retype.
func (o *Orchestrator) Submit(ctx context.Context) (*domain.Order, error) {
	o.mu.Lock()
	if o.state == domain.CheckoutStateSubmitting {
		o.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if o.state == domain.CheckoutStateFailed {
		// Retry path: re-enter Drafting with the same draft, then submit.
		o.state = domain.CheckoutStateDrafting
	}
	if !domain.CanTransitionTo(o.state, domain.CheckoutStateSubmitting) {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, state, domain.CheckoutStateSubmitting)
	}
	if !o.draft.Complete() {
		o.mu.Unlock()
		return nil, ErrIncompleteDraft
	}
	draft := o.draft
	idemKey := o.idemKey
	o.state = domain.CheckoutStateSubmitting
	o.mu.Unlock()

	// The key rides in the body; servers that ignore unknown fields see
	// unchanged behavior, servers that honor it cannot double-create on retry.
	payload := struct {
		domain.ShippingDetails
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}{draft, idemKey}

	var order domain.Order
	err := o.gw.Do(ctx, http.MethodPost, "/api/orders", nil, payload, &order)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = domain.CheckoutStateFailed
		o.reason = err
		o.log.Warn("order submission failed", zap.Error(err))
		return nil, fmt.Errorf("submit order: %w", err)
	}
	o.state = domain.CheckoutStateSucceeded
	o.order = &order
	o.reason = nil
	o.cart.Invalidate()
	o.log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Float64("total_amount", order.TotalAmount))
	return &order, nil
}

// Cancel abandons the draft and returns to Idle. Allowed from Drafting and
// Failed; a submission in flight cannot be cancelled.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !domain.CanTransitionTo(o.state, domain.CheckoutStateIdle) {
		return fmt.Errorf("%w: cannot cancel in state %s", ErrIllegalTransition, o.state)
	}
	o.state = domain.CheckoutStateIdle
	o.draft = domain.ShippingDetails{}
	o.order = nil
	o.reason = nil
	return nil
}

func (o *Orchestrator) State() domain.CheckoutState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Draft() domain.ShippingDetails {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draft
}

// Order returns the created order once the machine reached Succeeded.
func (o *Orchestrator) Order() (*domain.Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.order == nil {
		return nil, false
	}
	return o.order, true
}

// FailureReason returns the error that moved the machine into Failed.
func (o *Orchestrator) FailureReason() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}
