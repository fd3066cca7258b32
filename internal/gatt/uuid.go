package gatt

import (
	"regexp"
	"strings"

	"github.com/go-ble/ble"
)

// canonicalUUID is the accepted textual form of service and characteristic UUIDs.
var canonicalUUID = regexp.MustCompile(`^[0-9a-fA-F-]{8,36}$`)

// bluetoothBaseUUID completes 32-bit UUIDs, which go-ble cannot represent natively
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// IsCanonicalUUID reports whether s has the hexadecimal-with-hyphens form (8 to 36 characters).
func IsCanonicalUUID(s string) bool {
	return canonicalUUID.MatchString(s)
}

// NormalizeUUID converts a UUID string to the internal key format (lowercase, no dashes).
// 32-bit UUIDs are expanded with the Bluetooth base UUID so both spellings share a key.
func NormalizeUUID(s string) string {
	n := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	if len(n) == 8 {
		return n + strings.ReplaceAll(bluetoothBaseUUID, "-", "")
	}
	return n
}

// ParseUUID validates the canonical form and converts s into a go-ble UUID.
func ParseUUID(s string) (ble.UUID, error) {
	if !IsCanonicalUUID(s) {
		return nil, &BindError{Reason: InvalidUUID, Detail: s}
	}
	u, err := ble.Parse(NormalizeUUID(s))
	if err != nil {
		return nil, &BindError{Reason: InvalidUUID, Detail: s, Err: err}
	}
	return u, nil
}

// ShortenUUID returns the first eight characters of a UUID for log output.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
