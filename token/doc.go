// Package token issues, verifies, rotates and revokes the access/refresh
// token pairs authcore hands to clients.
//
// Access tokens are stateless JWTs (package jwt). Verification additionally
// consults two blacklists in the kv store and the subject's current token
// version, in that order:
//
//	signature -> expiry -> blacklist:token:{jti} -> blacklist:user:{sub} -> ver
//
// Blacklist lookups fail closed: if the store cannot answer, the token is
// rejected with ErrUnavailable.
//
// Refresh tokens are opaque "jti.secret" strings. Each belongs to a family
// (the lineage of rotations from one login). Presenting a token that was
// already rotated revokes the whole family.
package token
