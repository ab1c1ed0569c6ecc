// Package session answers one question for the gateway: who, if anyone, is
// making this request.
//
// Sessions are minted by the platform's identity provider as HS256 JWTs and
// carried either as a Bearer token or in the session cookie. This package only
// verifies them. A missing, malformed or expired token is an anonymous request,
// not an error; errors are reserved for the provider itself being unusable.
package session
