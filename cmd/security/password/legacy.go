package password

import (
	"crypto/subtle"
	"strings"

	"medgate/cmd/security/token"
)

const legacyDigestLen = 64

// LegacyDigest returns the unsalted lowercase SHA-256 hex digest of password,
// the format earlier deployments stored in users.password.
func LegacyDigest(password string) string {
	return token.HashSHA256Hex(password)
}

// IsLegacyDigest reports whether s has the shape of a SHA-256 hex digest.
func IsLegacyDigest(s string) bool {
	if len(s) != legacyDigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func verifyLegacy(stored, password string) bool {
	got := LegacyDigest(password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(stored))) == 1
}
