// pkce.go -- PKCE (RFC 7636) verifier/challenge and OAuth state generation.
package oauth

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/oauth2"
)

// stateBytes is the amount of entropy in an OAuth state value (32 hex chars).
const stateBytes = 16

// PKCE is one verifier/challenge pair for a single login attempt.
// Verifier is secret and stays server-side; Challenge goes to the provider.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE returns a fresh S256 PKCE pair.
// The verifier is 32 random bytes, base64url without padding (43 chars).
func GeneratePKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{Verifier: verifier, Challenge: ChallengeS256(verifier)}
}

// ChallengeS256 computes base64url(SHA-256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns a hex-encoded random state value bound to one login attempt.
// crypto/rand.Read aborts the process on RNG failure, so there is no error path.
func GenerateState() string {
	var b [stateBytes]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
