package ble

import "strings"

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID lowercases u and expands 16-bit and 32-bit short forms
// ("FFF0", "0000fff0") to the full Bluetooth base UUID.
func NormalizeUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	switch len(u) {
	case 4:
		return "0000" + u + baseUUIDSuffix
	case 8:
		return u + baseUUIDSuffix
	}
	return u
}

// SameUUID reports whether a and b name the same UUID.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}
