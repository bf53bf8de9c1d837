package cookie

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/cookieauth/secret"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid sealed cookie format")
	ErrCookieInvalid = errors.New("invalid sealed cookie")
	ErrCookieConfig  = errors.New("invalid sealed cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data decoded from a cookie.
const maxCookieLen = 4096

// Sealer encrypts small values for storage in a cookie.
//
// Format: [keyID] "." [sealed_b64]
// where sealed = nonce || AEAD.Seal(nil, nonce, cbor(v), aad) and aad is the
// logical cookie name. The key id selects the ring key used to open a value,
// so values sealed before a rotation open while the old key stays in the ring.
type Sealer struct {
	ring      *secret.Ring
	newAEAD   func(key []byte) (cipher.AEAD, error)
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

// SealerOption configures a Sealer.
type SealerOption func(*Sealer)

// WithAEAD overrides the default XChaCha20-Poly1305 AEAD.
func WithAEAD(f func([]byte) (cipher.AEAD, error)) SealerOption {
	return func(s *Sealer) {
		s.newAEAD = f
	}
}

// WithMarshalUnmarshal overrides the default CBOR encoding.
func WithMarshalUnmarshal(marshal func(any) ([]byte, error), unmarshal func([]byte, any) error) SealerOption {
	return func(s *Sealer) {
		s.marshal = marshal
		s.unmarshal = unmarshal
	}
}

// NewSealer returns a Sealer keyed by ring. Every ring key must be usable
// by the AEAD.
func NewSealer(ring *secret.Ring, opts ...SealerOption) (*Sealer, error) {
	s := &Sealer{
		ring:      ring,
		newAEAD:   chacha20poly1305.NewX,
		marshal:   cbor.Marshal,
		unmarshal: cbor.Unmarshal,
	}
	for _, opt := range opts {
		opt(s)
	}
	if ring.Len() == 0 {
		return nil, fmt.Errorf("%w: %w", ErrCookieConfig, secret.ErrEmptyRing)
	}
	if s.newAEAD == nil || s.marshal == nil || s.unmarshal == nil {
		return nil, ErrCookieConfig
	}
	for _, k := range ring.Keys() {
		if _, err := s.newAEAD(k.Bytes()); err != nil {
			return nil, fmt.Errorf("%w: key %s: %w", ErrCookieConfig, k.ID(), err)
		}
	}
	return s, nil
}

// Seal encodes v for the cookie called name.
func (s *Sealer) Seal(name string, v any) (string, error) {
	if s == nil {
		return "", ErrCookieConfig
	}
	key, err := s.ring.Current()
	if err != nil {
		return "", err
	}
	plain, err := s.marshal(v)
	if err != nil {
		return "", err
	}
	aead, err := s.newAEAD(key.Bytes())
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, []byte(name))
	return key.ID() + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decodes a value produced by Seal for the same cookie name into v.
func (s *Sealer) Open(name, value string, v any) error {
	if s == nil {
		return ErrCookieConfig
	}
	if len(value) == 0 || len(value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return ErrCookieFormat
	}
	key, ok := s.ring.Lookup(keyID)
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return ErrCookieFormat
	}
	aead, err := s.newAEAD(key.Bytes())
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return ErrCookieInvalid
	}
	return s.unmarshal(plain, v)
}
