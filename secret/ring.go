// Package secret holds the symmetric key ring shared by the session codec,
// the CSRF guard and sealed cookies.
//
// A ring is an ordered list of keys. The first key is current and is used
// for all new tokens; the remaining keys are accepted for decoding so that
// keys can be rotated without invalidating live sessions.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/mnehpets/cookieauth/autherr"
)

// KeySize is the required secret length. Secrets are opaque 32 character
// strings used as raw key bytes for both AES-256-GCM and HMAC-SHA256.
const KeySize = 32

// ErrEmptyRing is returned when a ring holds no keys.
var ErrEmptyRing = errors.New("secret ring is empty")

// Key is a validated secret.
type Key struct {
	id string
	b  []byte
}

// ValidateKey checks that secret has the required length.
func ValidateKey(secret string) (Key, error) {
	if len(secret) != KeySize {
		return Key{}, autherr.Wrapf(autherr.ErrWrongKeyLength, nil, "got %d bytes, want %d", len(secret), KeySize)
	}
	b := []byte(secret)
	sum := sha256.Sum256(b)
	return Key{id: hex.EncodeToString(sum[:4]), b: b}, nil
}

// ID returns a short stable fingerprint of the key. It does not reveal key
// material.
func (k Key) ID() string {
	return k.id
}

// Bytes returns the raw key.
func (k Key) Bytes() []byte {
	return k.b
}

func (k Key) valid() bool {
	return len(k.b) == KeySize
}

// Ring is an immutable, ordered list of keys.
type Ring struct {
	keys []Key
}

// NewRing validates every secret and returns a ring in the given order.
// One invalid secret rejects the whole ring.
func NewRing(secrets ...string) (*Ring, error) {
	if len(secrets) == 0 {
		return nil, ErrEmptyRing
	}
	keys := make([]Key, 0, len(secrets))
	for i, s := range secrets {
		k, err := ValidateKey(s)
		if err != nil {
			return nil, autherr.Wrapf(autherr.ErrWrongKeyLength, nil, "secret %d", i)
		}
		keys = append(keys, k)
	}
	return &Ring{keys: keys}, nil
}

// MustRing is like NewRing but panics on error.
func MustRing(secrets ...string) *Ring {
	r, err := NewRing(secrets...)
	if err != nil {
		panic(err)
	}
	return r
}

// Len returns the number of keys.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Current returns the key used for new tokens.
func (r *Ring) Current() (Key, error) {
	if r.Len() == 0 {
		return Key{}, ErrEmptyRing
	}
	return r.keys[0], nil
}

// Lookup finds a key by its ID.
func (r *Ring) Lookup(id string) (Key, bool) {
	if r == nil {
		return Key{}, false
	}
	for _, k := range r.keys {
		if k.id == id {
			return k, true
		}
	}
	return Key{}, false
}

// Keys returns a copy of the keys in ring order.
func (r *Ring) Keys() []Key {
	if r == nil {
		return nil
	}
	out := make([]Key, len(r.keys))
	copy(out, r.keys)
	return out
}

// ForEach calls fn with each key in order and returns the first success.
// If every key fails it returns the last error.
func ForEach[T any](r *Ring, fn func(Key) (T, error)) (T, error) {
	var zero T
	if r.Len() == 0 {
		return zero, ErrEmptyRing
	}
	var lastErr error
	for _, k := range r.keys {
		if !k.valid() {
			lastErr = autherr.ErrWrongKeyLength
			continue
		}
		v, err := fn(k)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// Generate returns a new random secret of KeySize characters.
func Generate() (string, error) {
	b := make([]byte, KeySize/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
