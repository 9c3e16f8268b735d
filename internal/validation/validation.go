// Package validation provides validation functions for addresses and
// daemon settings.
package validation

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
	"unicode"
)

// ValidateAddress validates a single IPv4 or IPv6 literal.
// Zones and CIDR prefixes are rejected; the remote API authorizes plain hosts.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if strings.ContainsFunc(addr, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) {
		return fmt.Errorf("address must not contain whitespace or control characters")
	}
	if strings.Contains(addr, "/") {
		return fmt.Errorf("address must be a single host, not a CIDR")
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return fmt.Errorf("must be a valid IP address")
	}
	if ip.Zone() != "" {
		return fmt.Errorf("address must not carry an IPv6 zone")
	}
	return nil
}

// ValidateToken validates an API token.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token must not be empty")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("token must not contain whitespace")
	}
	return nil
}

// ValidateInterval validates the cycle interval in minutes.
func ValidateInterval(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("interval must be at least 1 minute")
	}
	return nil
}

// ValidatePositiveDuration validates that d is greater than zero.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be greater than zero")
	}
	return nil
}
