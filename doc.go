// Package authcore is the security substrate of an authentication service:
// shared key-value state, request rate limiting with login lockout, JWT
// access tokens with rotating refresh tokens, TOTP two-factor with backup
// codes, OAuth provider sign-in and device session tracking.
//
// Engine wires these pieces from a Config. Build one at startup:
//
//	cfg, err := config.Load("authcore.yaml")
//	...
//	engine, err := authcore.New(ctx, cfg, authcore.Deps{Logger: logger})
//	...
//	defer engine.Close()
//
// Feature packages (kv, ratelimit, token, twofactor, oauth, session) are
// usable on their own; the engine adds lockout, audit and the uniform error
// surface described by PublicMessage.
package authcore
