// Package identity implements medgate's account model and credential storage.
//
// It contains the Account type, registration input validation, the
// CredentialStore boundary with in-memory, SQLite and PostgreSQL
// implementations, and Directory, which checks credentials against a store
// through a password hasher.
package identity
