// Package auth provides bearer credentials for the gateway's outbound calls.
//
// The escalation and handoff services accept either a pre-shared token
// (StaticToken) or an HS256 JWT minted by JWTSigner with the configured
// signing secret. JWTSigner caches its token and refreshes it before expiry.
package auth
