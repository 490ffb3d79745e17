package hostdir

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned for strings that are not six hex octets
// separated uniformly by ':' or '-'.
var ErrInvalidAddress = errors.New("invalid MAC address")

var macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// ValidMAC reports whether s is a MAC address in colon or hyphen notation.
// Mixed separators ("AA:BB-CC:...") are rejected.
func ValidMAC(s string) bool {
	if !macRe.MatchString(s) {
		return false
	}
	sep := s[2]
	for i := 5; i < len(s); i += 3 {
		if s[i] != sep {
			return false
		}
	}
	return true
}

// CanonicalMAC returns s in canonical form: uppercase, colon separated.
func CanonicalMAC(s string) (string, error) {
	if !ValidMAC(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToUpper(strings.ReplaceAll(s, "-", ":")), nil
}

// NormalizeMAC canonicalises s when it is a valid MAC and otherwise only
// trims and uppercases it. Upstream sources are not validated on ingestion,
// but valid addresses must compare equal across sources.
func NormalizeMAC(s string) string {
	s = strings.TrimSpace(s)
	if c, err := CanonicalMAC(s); err == nil {
		return c
	}
	return strings.ToUpper(s)
}

// CompactMAC returns the canonical MAC without separators, lowercase
// ("aabbccddeeff"). Used where ':' is not allowed (MQTT object IDs).
func CompactMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(NormalizeMAC(mac), ":", ""))
}

// ExpandMAC is the inverse of CompactMAC.
func ExpandMAC(compact string) (string, error) {
	if len(compact) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, compact)
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, compact[i:i+2])
	}
	return CanonicalMAC(strings.Join(parts, ":"))
}
