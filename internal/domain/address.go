package domain

import (
	"sort"
	"strings"
	"unicode"
)

// Address is a textual IPv4/IPv6 literal tracked for authorization.
// Addresses are compared by exact string equality.
type Address string

// NormalizeAddress trims surrounding whitespace and control characters.
func NormalizeAddress(s string) Address {
	return Address(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}))
}

// AddressSet is an unordered set of addresses.
type AddressSet map[Address]struct{}

// NewAddressSet creates a set from the given addresses.
func NewAddressSet(addrs ...Address) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts an address into the set.
func (s AddressSet) Add(a Address) {
	s[a] = struct{}{}
}

// Contains reports whether the address is in the set.
func (s AddressSet) Contains(a Address) bool {
	_, ok := s[a]
	return ok
}

// Minus returns the addresses in s that are not in other.
func (s AddressSet) Minus(other AddressSet) AddressSet {
	out := make(AddressSet)
	for a := range s {
		if !other.Contains(a) {
			out.Add(a)
		}
	}
	return out
}

// Sorted returns the addresses in lexical order, for stable iteration and logs.
func (s AddressSet) Sorted() []Address {
	out := make([]Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted addresses as plain strings.
func (s AddressSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, a := range sorted {
		out[i] = string(a)
	}
	return out
}

// Authorization is the remote record binding an address to an opaque id.
type Authorization struct {
	ID      string  `json:"id"`
	Address Address `json:"ip_address"`
}

// AuthorizationList is a fetched snapshot of the remote allow-list.
type AuthorizationList []Authorization

// Find returns the first record for the address.
func (l AuthorizationList) Find(addr Address) (Authorization, bool) {
	for _, a := range l {
		if a.Address == addr {
			return a, true
		}
	}
	return Authorization{}, false
}
