// Package session encodes user identity claims into a self-contained,
// cookie-sized session token.
//
// A token is an HS256-signed JWT wrapped in a compact JWE (alg "dir",
// enc "A256GCM"). Signing and encryption use the same ring key. New tokens
// are sealed with the current key; decoding tries every key in the ring so
// that tokens issued before a rotation remain valid until they expire.
package session

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/secret"
)

const (
	// Issuer is the fixed iss claim.
	Issuer = "fastauth"
	// Subject is the fixed sub claim.
	Subject = "client"

	// DefaultMaxAge is the default session lifetime.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// maxTokenLen bounds the attacker-controlled input accepted by Decode.
const maxTokenLen = 8192

var errMalformed = errors.New("malformed token")

// UserInfo is the provider-normalized identity carried by a session.
type UserInfo struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email"`
	Name   string         `json:"name"`
	Avatar string         `json:"avatar,omitempty"`
	Extras map[string]any `json:"extras,omitempty"`
}

// Claims is the JWT payload of a session token.
type Claims struct {
	UserInfo UserInfo `json:"user_info"`
	jwt.RegisteredClaims
}

// Codec seals and opens session tokens with a key ring.
type Codec struct {
	ring *secret.Ring
	now  func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec returns a Codec for ring.
func NewCodec(ring *secret.Ring, opts ...CodecOption) *Codec {
	c := &Codec{ring: ring, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode is shorthand for NewCodec(ring).Encode(info, maxAge).
func Encode(info UserInfo, ring *secret.Ring, maxAge time.Duration) (string, error) {
	return NewCodec(ring).Encode(info, maxAge)
}

// Decode is shorthand for NewCodec(ring).Decode(token).
func Decode(token string, ring *secret.Ring) (*Claims, error) {
	return NewCodec(ring).Decode(token)
}

// Encode issues a token for info that expires maxAge from now.
func (c *Codec) Encode(info UserInfo, maxAge time.Duration) (string, error) {
	if maxAge < 0 {
		return "", autherr.Wrapf(autherr.ErrEncoding, nil, "negative max age %s", maxAge)
	}
	now := c.now()
	claims := Claims{
		UserInfo: info,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
			ID:        uuid.NewString(),
		},
	}
	token, err := secret.ForEach(c.ring, func(k secret.Key) (string, error) {
		return seal(&claims, k)
	})
	if err != nil {
		return "", autherr.Wrapf(autherr.ErrEncoding, err, "seal session")
	}
	return token, nil
}

func seal(claims *Claims, k secret.Key) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.Bytes())
	if err != nil {
		return "", err
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: k.Bytes(), KeyID: k.ID()},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", err
	}
	obj, err := enc.Encrypt([]byte(signed))
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// Decode opens token and validates its claims. Every failure, including
// expiry and structural damage, is reported as autherr.ErrSessionTampering.
func (c *Codec) Decode(token string) (*Claims, error) {
	if err := checkCompact(token); err != nil {
		return nil, autherr.Wrapf(autherr.ErrSessionTampering, err, "decode session")
	}
	obj, err := jose.ParseEncryptedCompact(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, autherr.Wrapf(autherr.ErrSessionTampering, err, "parse session")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithSubject(Subject),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	claims, err := secret.ForEach(c.ring, func(k secret.Key) (*Claims, error) {
		signed, err := obj.Decrypt(k.Bytes())
		if err != nil {
			return nil, err
		}
		var claims Claims
		if _, err := parser.ParseWithClaims(string(signed), &claims, func(*jwt.Token) (any, error) {
			return k.Bytes(), nil
		}); err != nil {
			return nil, err
		}
		if claims.IssuedAt == nil || claims.ExpiresAt.Before(claims.IssuedAt.Time) {
			return nil, jwt.ErrTokenInvalidClaims
		}
		return &claims, nil
	})
	if err != nil {
		return nil, autherr.Wrapf(autherr.ErrSessionTampering, err, "open session")
	}
	return claims, nil
}

// checkCompact rejects anything that is not five strictly encoded base64url
// segments. The JOSE parser accepts non-canonical trailing bits, so without
// this a changed final character could decode to the same bytes.
func checkCompact(token string) error {
	if token == "" || len(token) > maxTokenLen {
		return errMalformed
	}
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return errMalformed
	}
	for _, p := range parts {
		for i := 0; i < len(p); i++ {
			ch := p[i]
			if !(ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_') {
				return errMalformed
			}
		}
		if _, err := base64.RawURLEncoding.Strict().DecodeString(p); err != nil {
			return errMalformed
		}
	}
	return nil
}
