// Package token provides hashing primitives for lotgate's opaque tokens.
//
// It is the single source of truth for how email-verification tokens are
// stored server-side:
// - SHA-256(token) when no HMAC key is configured (dev).
// - HMAC-SHA256(token, key) when LOTGATE_TOKEN_HMAC_KEY is set.
// Output is always a 64-char hex string.
package token
