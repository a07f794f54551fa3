// Package session records logins as device sessions and lets users list and
// revoke them.
//
// Each session carries a device fingerprint: a hash of the user agent and the
// network prefix of the client address (/24 for IPv4, /48 for IPv6). Address
// churn inside one subnet keeps the same fingerprint; moving to another
// subnet does not.
//
// # Architecture boundaries
//
// This package owns session rows and fingerprinting. Revoking the tokens that
// belong to a session is the caller's job (see the token package).
package session
