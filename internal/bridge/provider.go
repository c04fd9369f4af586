// Package bridge aggregates quotes across independent cross-chain bridge
// providers and selects optimal routes, including two-hop routes through an
// intermediate chain.
package bridge

import (
	"context"
	"strings"

	"chainsweep/internal/models"
)

// Provider is the uniform contract every bridge adapter implements. A nil
// quote with a nil error means "no quote for this request"; errors from any
// method degrade to "this provider contributes nothing" and never fail an
// aggregate call.
type Provider interface {
	Name() string
	SupportsRoute(ctx context.Context, sourceChain, destinationChain, token string) (bool, error)
	GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.Quote, error)
	BuildTransaction(ctx context.Context, quote *models.Quote) (*models.TransactionRequest, error)
	GetStatus(ctx context.Context, txHash, chain string) (*models.BridgeReceipt, error)
}

// Registry is the fixed, ordered collection of enabled providers. It is built
// once at construction and exposed only through accessors; iteration order is
// the configured construction order.
type Registry struct {
	order  []Provider
	byName map[string]Provider
}

// NewRegistry builds a registry from the given providers, preserving order.
// A duplicate name keeps the first registration.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		byName: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		name := strings.ToLower(p.Name())
		if _, exists := r.byName[name]; exists {
			continue
		}
		r.byName[name] = p
		r.order = append(r.order, p)
	}
	return r
}

// Provider returns the enabled provider with the given name
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// Enabled returns all enabled providers in registration order
func (r *Registry) Enabled() []Provider {
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of enabled providers
func (r *Registry) Len() int {
	return len(r.order)
}
