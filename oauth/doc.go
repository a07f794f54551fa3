// Package oauth signs users in through external identity providers.
//
// [Flow.Start] hands out the provider authorization URL with a single-use
// state. [Flow.Callback] exchanges the code, reads the provider profile and
// resolves the local user: an existing provider link wins, then a user with
// the same verified email is linked, otherwise a new user is created. Every
// branch ends the same way, with a token pair, a recorded session, an audit
// entry and an updated last-login time.
//
// Callback never returns an error to the browser. Failures of any kind
// produce the configured error URL with error=oauth_failed.
package oauth
