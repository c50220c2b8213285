// Package token provides opaque token generation and token digests for medgate.
//
// Session tokens are handed to clients; only their digest is used as a
// storage key. With an HMAC key configured the digest is HMAC-SHA256,
// otherwise plain SHA-256. Output is always 64 lowercase hex characters.
//
// Environment:
//   - MEDGATE_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
