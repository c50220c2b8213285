package app

import (
	"errors"

	"github.com/samber/oops"

	"medgate/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy and returns
// the digester that turns session tokens into storage keys.
//
// With RequireTokenHMAC a missing or short MEDGATE_TOKEN_HMAC_KEY is fatal.
// Without it, a valid key is still used and an absent key means plain SHA-256.
func ValidateSecurityConfig(cfg Config, log Logger) (token.Digester, error) {
	policy := oops.Code("SECURITY_POLICY")

	key, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes)
	switch {
	case err == nil:
		return token.NewDigester(key), nil
	case !cfg.RequireTokenHMAC && errors.Is(err, token.ErrHMACKeyMissing):
		log.Info("security.token_hmac.disabled")
		return token.NewDigester(nil), nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Digester{}, policy.Errorf("MEDGATE_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Digester{}, policy.Errorf("%s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Digester{}, policy.Wrap(err)
	}
}

// warnLegacyWrites flags deployments that still write unsalted digests.
func warnLegacyWrites(cfg Config, log Logger) {
	if cfg.Password.LegacyDigestWrites {
		log.Warn("security.password.legacy_digest_writes",
			"hint", "new passwords are stored as unsalted SHA-256; unset MEDGATE_PASSWORD_LEGACY_DIGEST once old readers are gone")
	}
}
