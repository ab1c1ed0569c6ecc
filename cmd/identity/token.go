package identity

import (
	"crypto/rand"
	"encoding/base64"

	"lotgate/cmd/security/token"
)

// NewOpaqueToken returns a cryptographically random URL-safe token.
// The plain value is handed to the subject exactly once; only its hash is stored.
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding: the token travels in a query string.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashVerificationToken returns the server-stored hash for a verification token.
// It uses HMAC-SHA256 if LOTGATE_TOKEN_HMAC_KEY is set; otherwise SHA-256.
func HashVerificationToken(tokenStr string) string { return token.HashTokenHex(tokenStr) }
