package token

import "errors"

// Returned by HMACKeyFromEnv.
var (
	ErrHMACKeyMissing  = errors.New("session key HMAC secret not set")
	ErrHMACKeyTooShort = errors.New("session key HMAC secret below minimum length")
)
