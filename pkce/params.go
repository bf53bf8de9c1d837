// Package pkce generates the per-request security parameters of an
// authorization code flow: the state value and the PKCE verifier/challenge
// pair (RFC 7636, S256).
package pkce

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// MethodS256 is the only challenge method produced.
const MethodS256 = "S256"

// Length is the length of State and CodeVerifier.
const Length = 128

// rawLength random bytes encode to exactly Length base64url characters.
const rawLength = Length * 3 / 4

// Params is the state and PKCE triple for one authorize request.
type Params struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
	Method        string
}

// Generate draws fresh random values for a new authorize request.
func Generate() (Params, error) {
	state, err := randomString()
	if err != nil {
		return Params{}, err
	}
	verifier, err := randomString()
	if err != nil {
		return Params{}, err
	}
	return Params{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
		Method:        MethodS256,
	}, nil
}

// Challenge derives the S256 code challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func randomString() (string, error) {
	b := make([]byte, rawLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
