// Package checkout turns a cart submission into a pending order, a gateway
// checkout session and the linkage between the two.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/oakline/storefront/internal/gateway"
	"github.com/oakline/storefront/internal/order"
)

// CartItem is one submitted line. Prices arrive in minor units.
type CartItem struct {
	ProductID string
	Name      string
	Variant   string
	UnitPrice int64
	Quantity  int
	ImageURL  string
}

// Cart is the checkout submission: line items plus customer contact and an
// optional billing address. The shipping address is collected later by the
// gateway's hosted page.
type Cart struct {
	Items          []CartItem
	Customer       order.Customer
	BillingAddress order.Address
}

// Result is returned to the caller so the browser can be redirected to the
// gateway's hosted page.
type Result struct {
	RedirectURL string
	OrderCode   string
}

// Service is the checkout orchestrator.
type Service struct {
	store    order.Store
	gateway  gateway.Client
	baseURL  string // public site URL, used to build the redirect targets
	currency string
}

func NewService(store order.Store, gw gateway.Client, baseURL, currency string) *Service {
	return &Service{
		store:    store,
		gateway:  gw,
		baseURL:  baseURL,
		currency: currency,
	}
}

// Checkout validates the cart, persists a pending order with a frozen item
// snapshot, opens a gateway session and links it to the order.
//
// Failure ordering matters: once the pending order is written it is never
// rolled back. A pending row without a session is cheap to expire later;
// a gateway charge without a local order is the one failure this flow must
// never produce.
func (s *Service) Checkout(ctx context.Context, cart Cart) (*Result, error) {
	if err := validate(cart); err != nil {
		return nil, err
	}

	code, err := NewOrderCode()
	if err != nil {
		return nil, err
	}

	ord := &order.Order{
		Code:           code,
		Status:         order.StatusPending,
		Customer:       cart.Customer,
		BillingAddress: cart.BillingAddress,
		Items:          freezeItems(cart.Items),
		Currency:       s.currency,
		CreatedAt:      time.Now().UTC(),
	}
	for _, it := range ord.Items {
		ord.Subtotal += it.Subtotal()
	}
	// Shipping and tax are unknown until the gateway computes them.
	ord.Total = ord.Subtotal

	if err := s.store.Create(ctx, ord); err != nil {
		return nil, fmt.Errorf("checkout: persist order: %w", err)
	}

	session, err := s.gateway.CreateSession(ctx, gateway.CreateSessionParams{
		OrderCode:     code,
		CustomerEmail: cart.Customer.Email,
		Currency:      s.currency,
		Items:         sessionItems(ord.Items),
		SuccessURL:    s.trackURL(code),
		CancelURL:     s.baseURL + "/cart",
	})
	if err != nil {
		// The pending order stays. Surfacing the gateway failure while
		// keeping the row is deliberate: an expiry sweep cleans up unpaid
		// pending orders, while deleting here would race a fast webhook.
		slog.WarnContext(ctx, "checkout: gateway session creation failed, pending order kept",
			"order_code", code, "error", err)
		return nil, fmt.Errorf("checkout: create gateway session for %s: %w", code, err)
	}

	if err := s.store.LinkSession(ctx, ord.ID, session.ID); err != nil {
		return nil, fmt.Errorf("checkout: link session %s to %s: %w", session.ID, code, err)
	}

	slog.InfoContext(ctx, "checkout: order created",
		"order_code", code, "session_id", session.ID, "subtotal", ord.Subtotal)

	return &Result{RedirectURL: session.RedirectURL, OrderCode: code}, nil
}

func validate(cart Cart) error {
	if len(cart.Items) == 0 {
		return order.ErrInvalidCart
	}
	for _, it := range cart.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return order.ErrInvalidCart
		}
	}
	if cart.Customer.Name == "" || cart.Customer.Email == "" {
		return order.ErrInvalidCart
	}
	return nil
}

func freezeItems(items []CartItem) []order.Item {
	out := make([]order.Item, len(items))
	for i, it := range items {
		out[i] = order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Variant:   it.Variant,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			ImageURL:  it.ImageURL,
		}
	}
	return out
}

func sessionItems(items []order.Item) []gateway.SessionItem {
	out := make([]gateway.SessionItem, len(items))
	for i, it := range items {
		name := it.Name
		if it.Variant != "" {
			name = it.Name + " (" + it.Variant + ")"
		}
		out[i] = gateway.SessionItem{
			Name:       name,
			UnitAmount: it.UnitPrice,
			Quantity:   it.Quantity,
			ImageURL:   it.ImageURL,
		}
	}
	return out
}

func (s *Service) trackURL(code string) string {
	return s.baseURL + "/track-order?orderId=" + url.QueryEscape(code)
}
