// Package password provides password hashing and verification for medgate.
//
// New hashes are Argon2id in the PHC string format. Verify also accepts the
// unsalted SHA-256 hex digests written by earlier deployments, and
// NeedsUpgrade reports when a stored value should be re-hashed.
//
// Stored hashes are untrusted input during Verify and are bounded accordingly.
package password
