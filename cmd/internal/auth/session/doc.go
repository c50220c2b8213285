// Package session implements medgate's login sessions.
//
// A session belongs to one owner (a connection id) and carries the account
// it was opened for. Each owner has at most one session; opening a new one
// replaces the old one wholesale. Sessions end on logout, on disconnect, or
// when their idle timer fires, whichever comes first.
//
// The Manager's in-memory arena is authoritative. A Store mirrors it
// (memory or Redis) so that other processes can see who is logged in;
// mirror failures are logged and never fail a login.
package session
