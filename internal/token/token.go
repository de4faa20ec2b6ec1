// Package token signs and verifies the EdDSA JWTs accepted by sqld's data plane.
//
// A token carries no custom claims when it grants the full access of the
// signing key, or an "a" (permission) and "id" (namespace) claim pair when it
// is a delegated token scoped to one namespace.
package token

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sipico/sqld-gateway/internal/errs"
)

const (
	// Algorithm is the JWS algorithm sqld verifies.
	Algorithm = "EdDSA"

	// DefaultExpiration applies when the caller did not choose an expiry.
	DefaultExpiration = time.Hour
)

// Permission is the access level embedded in a scoped token.
type Permission string

const (
	// ReadOnly permits reads only.
	ReadOnly Permission = "ro"
	// ReadWrite permits reads and writes.
	ReadWrite Permission = "rw"
)

// ParsePermission validates a permission string.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case ReadOnly, ReadWrite:
		return Permission(s), nil
	default:
		return "", errs.Invalid("permission must be %q or %q, got %q", ReadOnly, ReadWrite, s)
	}
}

// Expiry selects the expiration of a token. The zero value means
// DefaultExpiration; Never omits the exp claim entirely.
type Expiry struct {
	set      bool
	never    bool
	duration time.Duration
}

// Never produces a token without an exp claim.
var Never = Expiry{set: true, never: true}

// ExpiresIn produces a token that expires d after issuance.
func ExpiresIn(d time.Duration) Expiry {
	return Expiry{set: true, duration: d}
}

// ExpiresInSeconds converts a nullable seconds value as sent by API callers:
// nil means the token never expires.
func ExpiresInSeconds(sec *int64) Expiry {
	if sec == nil {
		return Never
	}
	return ExpiresIn(time.Duration(*sec) * time.Second)
}

// Duration reports how long after issuance the token expires.
// ok is false when the token never expires.
func (e Expiry) Duration() (d time.Duration, ok bool) {
	switch {
	case !e.set:
		return DefaultExpiration, true
	case e.never:
		return 0, false
	default:
		return e.duration, true
	}
}

// Options controls the claims of a signed token.
type Options struct {
	Permission Permission
	Namespace  string
	Expiry     Expiry
}

// Claims is the claim set of tokens issued by the gateway.
type Claims struct {
	Permission Permission `json:"a,omitempty"`
	Namespace  string     `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// Signer signs tokens. It holds no key material; the private key is parsed
// on every call.
type Signer struct {
	now func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for iat, exp and verification.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a Signer.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns a compact JWS signed with the PKCS8 PEM encoded Ed25519 key.
func (s *Signer) Sign(privateKeyPEM string, opts Options) (string, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	issuedAt := jwt.NewNumericDate(s.now())
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: issuedAt},
	}
	if opts.Permission != "" && opts.Namespace != "" {
		claims.Permission = opts.Permission
		claims.Namespace = opts.Namespace
	}
	if d, ok := opts.Expiry.Duration(); ok {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(d))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSigningFailure, err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature and expiry against the
// signer's clock.
func (s *Signer) Verify(publicKey crypto.PublicKey, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	}, jwt.WithValidMethods([]string{Algorithm}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ParsePrivateKey decodes a PKCS8 PEM encoded Ed25519 private key.
func ParsePrivateKey(privateKeyPEM string) (ed25519.PrivateKey, error) {
	if privateKeyPEM == "" {
		return nil, fmt.Errorf("%w: empty private key", errs.ErrSigningFailure)
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSigningFailure, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %w", errs.ErrSigningFailure, errors.New("key is not an Ed25519 private key"))
	}
	return edKey, nil
}

// PublicKey derives the public half of a PEM encoded private key.
func PublicKey(privateKeyPEM string) (ed25519.PublicKey, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return key.Public().(ed25519.PublicKey), nil
}
