// Package authn implements the account Authenticator: login, registration,
// logout and the per-connection session state machine.
//
// Credential and validation failures are typed results, never Go errors.
// Every transition is also published as an Event to the registered
// Listeners (audit log, metrics, and the connection router).
package authn
