// Package password hashes passwords with Argon2id and verifies primary
// credentials.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters;
// [Authenticator] rehashes them transparently after a successful login.
// Hashing is CPU- and memory-heavy, so the authenticator runs it on a bounded
// worker pool.
package password
