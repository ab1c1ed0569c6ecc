// Package password hashes registration credentials with Argon2id.
//
// lotgate does not authenticate passwords itself; it only stores a hash when
// a subject registers. The encoded format is PHC-like:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Verification belongs to the identity provider that mints sessions and reads
// the same encoding.
package password
