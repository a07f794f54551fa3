// Package jwt signs and verifies the short-lived access tokens handed out by
// authcore. Claims are sub, jti, iat, exp and ver (the subject's token
// version at issuance). Revocation checks live in package token; this package
// only answers "is the signature valid and the token unexpired".
package jwt
