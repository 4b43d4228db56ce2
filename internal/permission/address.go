package permission

import (
	"fmt"
	"regexp"
	"strings"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// ValidateAddress checks the 0x-prefixed hex account address format.
func ValidateAddress(addr string) error {
	if !addressRe.MatchString(addr) {
		return fmt.Errorf("malformed address %q", addr)
	}
	return nil
}

// NormalizeAddress lower-cases an address so comparisons are exact.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ShortAddress renders 0x1234...cdef for display.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
