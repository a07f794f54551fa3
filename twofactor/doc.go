// Package twofactor implements TOTP enrollment, second-factor login
// challenges and single-use backup codes.
//
// Enrollment is two-step: [Service.BeginSetup] parks the new secret and
// backup codes in the key-value store for ten minutes, and
// [Service.ConfirmSetup] moves them to the user record once the user proves
// possession with a valid code. Login challenges are keyed by an opaque temp
// token and consumed by the first successful completion. When the caller
// cannot finish the login after a completion, [Service.Reopen] puts the
// challenge back for its remaining lifetime and returns a spent backup code to
// the user.
//
// Disabling two-factor needs only the password; an accompanying code is
// verified when present. This is a deliberate relaxation kept for product
// review.
package twofactor
