package service

import "github.com/bcnelson/ipauth-sync/internal/domain"

// Diff returns the addresses that must be authorized (resolved but not cached)
// and revoked (cached but no longer resolved). The two sets are disjoint.
func Diff(resolved, cached domain.AddressSet) (added, removed domain.AddressSet) {
	return resolved.Minus(cached), cached.Minus(resolved)
}
