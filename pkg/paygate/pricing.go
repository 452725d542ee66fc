package paygate

import (
	"net/http"
	"sort"
	"strings"
)

// PricingPolicy quotes the satoshis required for a request. A quote of 0
// means the request is free.
type PricingPolicy interface {
	Quote(r *http.Request) (uint64, error)
}

// PricingFunc adapts an ordinary function to PricingPolicy.
type PricingFunc func(r *http.Request) (uint64, error)

// Quote calls f(r).
func (f PricingFunc) Quote(r *http.Request) (uint64, error) {
	return f(r)
}

// FixedPrice charges the same amount for every request.
type FixedPrice uint64

// Quote returns p.
func (p FixedPrice) Quote(*http.Request) (uint64, error) {
	return uint64(p), nil
}

// RoutePricing prices requests by path prefix. The longest matching prefix
// wins; unmatched paths cost Default.
type RoutePricing struct {
	Routes  map[string]uint64
	Default uint64

	ordered []string
}

// NewRoutePricing builds a RoutePricing from a prefix → price table.
func NewRoutePricing(routes map[string]uint64, def uint64) *RoutePricing {
	p := &RoutePricing{Routes: routes, Default: def}
	for prefix := range routes {
		p.ordered = append(p.ordered, prefix)
	}
	sort.Slice(p.ordered, func(i, j int) bool {
		return len(p.ordered[i]) > len(p.ordered[j])
	})
	return p
}

// Quote returns the price of the longest route prefix matching r.URL.Path.
func (p *RoutePricing) Quote(r *http.Request) (uint64, error) {
	for _, prefix := range p.ordered {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return p.Routes[prefix], nil
		}
	}
	return p.Default, nil
}
