// Package resolver discovers the machine's externally visible addresses.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/validation"
	"github.com/cyclopcam/logs"
)

// Resolver obtains the current externally visible address set.
// It either returns a non-empty set or an error wrapping domain.ErrResolution.
type Resolver interface {
	Resolve(ctx context.Context) (domain.AddressSet, error)
}

// AddressLookup asks a remote service which address a request came from.
type AddressLookup interface {
	WhatsMyIP(ctx context.Context) (domain.Address, error)
}

// HTTPResolver resolves a single address through a "whats my ip" endpoint.
type HTTPResolver struct {
	lookup AddressLookup
	log    logs.Log
}

var _ Resolver = (*HTTPResolver)(nil)

// NewHTTPResolver creates a resolver backed by lookup.
func NewHTTPResolver(lookup AddressLookup, logger logs.Log) *HTTPResolver {
	return &HTTPResolver{lookup: lookup, log: logger}
}

// Resolve returns the single address reported by the remote endpoint.
func (r *HTTPResolver) Resolve(ctx context.Context) (domain.AddressSet, error) {
	addr, err := r.lookup.WhatsMyIP(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrResolution, err)
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: empty ip_address", domain.ErrResolution)
	}
	warnInvalid(r.log, addr)
	return domain.NewAddressSet(addr), nil
}

// ParseAddressList parses comma-separated provider output. Tokens are trimmed
// of whitespace and control characters; empty tokens are dropped.
func ParseAddressList(out string) domain.AddressSet {
	set := make(domain.AddressSet)
	for _, tok := range strings.Split(out, ",") {
		if addr := domain.NormalizeAddress(tok); addr != "" {
			set.Add(addr)
		}
	}
	return set
}

// warnInvalid logs addresses that do not look like IP literals. They are
// still tracked verbatim; the remote API is the final judge.
func warnInvalid(log logs.Log, addrs ...domain.Address) {
	for _, a := range addrs {
		if err := validation.ValidateAddress(string(a)); err != nil {
			log.Warnf("Resolved address %q looks invalid: %v", a, err)
		}
	}
}
