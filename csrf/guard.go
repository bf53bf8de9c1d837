// Package csrf generates and validates double-submit CSRF tokens.
//
// A token has the form "<hex_hmac>.<payload>" where payload is
// "<key_id>:<random>" and the HMAC is HMAC-SHA256 over payload. The key id
// selects the ring key directly, so there is no rotation cursor and a Guard
// is safe for concurrent use.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mnehpets/cookieauth/secret"
)

// randomBytes is the entropy in each token payload.
const randomBytes = 32

// maxTokenLen bounds input to Validate.
const maxTokenLen = 512

var errMismatch = errors.New("csrf token mismatch")

// Guard issues and checks tokens with a key ring.
type Guard struct {
	ring *secret.Ring
}

// NewGuard returns a Guard for ring.
func NewGuard(ring *secret.Ring) *Guard {
	return &Guard{ring: ring}
}

// Generate is shorthand for NewGuard(ring).Generate().
func Generate(ring *secret.Ring) (string, error) {
	return NewGuard(ring).Generate()
}

// Validate is shorthand for NewGuard(ring).Validate(token).
func Validate(token string, ring *secret.Ring) bool {
	return NewGuard(ring).Validate(token)
}

// Generate returns a fresh token signed with the current key.
func (g *Guard) Generate() (string, error) {
	k, err := g.ring.Current()
	if err != nil {
		return "", err
	}
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	payload := k.ID() + ":" + base64.RawURLEncoding.EncodeToString(b)
	return sign(k, payload) + "." + payload, nil
}

// Validate reports whether token was issued by a key in the ring.
func (g *Guard) Validate(token string) bool {
	if token == "" || len(token) > maxTokenLen {
		return false
	}
	mac, payload, ok := strings.Cut(token, ".")
	if !ok || mac == "" || payload == "" {
		return false
	}
	keyID, _, _ := strings.Cut(payload, ":")
	if k, ok := g.ring.Lookup(keyID); ok && verify(k, mac, payload) {
		return true
	}
	_, err := secret.ForEach(g.ring, func(k secret.Key) (struct{}, error) {
		if verify(k, mac, payload) {
			return struct{}{}, nil
		}
		return struct{}{}, errMismatch
	})
	return err == nil
}

func sign(k secret.Key, payload string) string {
	h := hmac.New(sha256.New, k.Bytes())
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func verify(k secret.Key, mac, payload string) bool {
	want := sign(k, payload)
	return subtle.ConstantTimeCompare([]byte(want), []byte(mac)) == 1
}
