// Package lookup is the read-only projection behind the customer-facing
// order tracking page.
package lookup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oakline/storefront/internal/order"
	"github.com/oakline/storefront/internal/pkg/cache"
)

// Projection is the public view of an order. It deliberately carries no
// internal correlation keys: gatewayPaymentId and the raw store id never
// leave the engine.
type Projection struct {
	OrderCode       string           `json:"order_code"`
	Status          string           `json:"status"`
	Items           []ProjectionItem `json:"items"`
	Subtotal        int64            `json:"subtotal"`
	ShippingCost    int64            `json:"shipping_cost"`
	Tax             int64            `json:"tax"`
	Total           int64            `json:"total"`
	Currency        string           `json:"currency"`
	ShippingAddress order.Address    `json:"shipping_address"`
	CreatedAt       time.Time        `json:"created_at"`
}

type ProjectionItem struct {
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"image_url,omitempty"`
}

// envelope is what actually goes into the cache: the projection plus the
// session id needed to re-check the caller's correlation token on a hit.
// The envelope never leaves this package.
type envelope struct {
	CheckoutID string     `json:"checkout_id"`
	Projection Projection `json:"projection"`
}

// Service resolves tracking requests, read-through caching the projections.
type Service struct {
	store order.Store
	cache cache.Cache // nil-safe: caching disabled if nil
	ttl   time.Duration
}

func NewService(store order.Store, c cache.Cache, ttl time.Duration) *Service {
	return &Service{store: store, cache: c, ttl: ttl}
}

// Track returns the projection for orderCode when checkoutID matches the
// order's gateway session id. Knowledge of both opaque tokens is the only
// access control on this path, so every failure mode — unknown code, wrong
// token, order without a session yet — collapses into the same
// ErrOrderNotFound. The endpoint must not become an enumeration oracle.
func (s *Service) Track(ctx context.Context, orderCode, checkoutID string) (*Projection, error) {
	if orderCode == "" || checkoutID == "" {
		return nil, order.ErrOrderNotFound
	}

	if env := s.cached(ctx, orderCode); env != nil {
		if env.CheckoutID != checkoutID {
			return nil, order.ErrOrderNotFound
		}
		proj := env.Projection
		return &proj, nil
	}

	ord, err := s.store.GetByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if ord.GatewaySessionID == "" || ord.GatewaySessionID != checkoutID {
		return nil, order.ErrOrderNotFound
	}

	proj := project(ord)
	s.put(ctx, orderCode, envelope{CheckoutID: ord.GatewaySessionID, Projection: *proj})
	return proj, nil
}

// Invalidate drops the cached projection after a status transition.
func (s *Service) Invalidate(ctx context.Context, orderCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.key(orderCode)); err != nil {
		slog.WarnContext(ctx, "lookup: cache invalidation failed", "order_code", orderCode, "error", err)
	}
}

func (s *Service) cached(ctx context.Context, orderCode string) *envelope {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.key(orderCode))
	if err != nil {
		slog.WarnContext(ctx, "lookup: cache read failed", "order_code", orderCode, "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil
	}
	return &env
}

func (s *Service) put(ctx context.Context, orderCode string, env envelope) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.key(orderCode), string(raw), s.ttl); err != nil {
		slog.WarnContext(ctx, "lookup: cache write failed", "order_code", orderCode, "error", err)
	}
}

func (s *Service) key(orderCode string) string {
	return s.cache.GenerateKey("track", orderCode)
}

func project(ord *order.Order) *Projection {
	items := make([]ProjectionItem, len(ord.Items))
	for i, it := range ord.Items {
		items[i] = ProjectionItem{
			Name:      it.Name,
			Variant:   it.Variant,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			ImageURL:  it.ImageURL,
		}
	}
	return &Projection{
		OrderCode:       ord.Code,
		Status:          string(ord.Status),
		Items:           items,
		Subtotal:        ord.Subtotal,
		ShippingCost:    ord.ShippingCost,
		Tax:             ord.Tax,
		Total:           ord.Total,
		Currency:        ord.Currency,
		ShippingAddress: ord.ShippingAddress,
		CreatedAt:       ord.CreatedAt,
	}
}
