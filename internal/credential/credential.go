// Package credential models the credentials a database server is configured
// with and turns them into wire headers for the plane they target.
package credential

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/token"
)

// Plane identifies the remote surface a credential is presented to.
type Plane int

const (
	// PlaneAdmin is the namespace lifecycle REST surface (adminUrl).
	PlaneAdmin Plane = iota
	// PlaneData is the SQL execution surface (normalUrl).
	PlaneData
	// PlaneLegacy is the unauthenticated probe surface (health, version).
	PlaneLegacy
)

// String returns the plane name used in logs and metrics.
func (p Plane) String() string {
	switch p {
	case PlaneAdmin:
		return "admin"
	case PlaneData:
		return "data"
	case PlaneLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Type names as they appear in JSON.
const (
	TypeNone  = "none"
	TypeBasic = "basic"
	TypeJWT   = "jwt"
)

// Credential is one of Basic, JWT or None.
type Credential interface {
	// Type returns the discriminator of the variant.
	Type() string
	credential()
}

// Basic is a static token sent as-is after "Basic ".
type Basic struct {
	Token string
}

// JWT is an Ed25519 private key in PKCS8 PEM form used to sign a fresh
// token for every request.
type JWT struct {
	PrivateKey string
}

// None sends no credentials.
type None struct{}

func (Basic) Type() string { return TypeBasic }
func (JWT) Type() string   { return TypeJWT }
func (None) Type() string  { return TypeNone }

func (Basic) credential() {}
func (JWT) credential()   {}
func (None) credential()  {}

// Validate checks that c is well formed and allowed on plane.
// The admin plane accepts only Basic; None is accepted only on the legacy plane.
// JWT private keys are parsed so malformed keys are caught before use.
func Validate(plane Plane, c Credential) error {
	switch v := c.(type) {
	case Basic:
		if strings.TrimSpace(v.Token) == "" {
			return fmt.Errorf("%w: %s token is required", errs.ErrInvalidCredential, plane)
		}
	case JWT:
		if plane == PlaneAdmin {
			return fmt.Errorf("%w: admin plane does not accept jwt credentials", errs.ErrInvalidCredential)
		}
		if strings.TrimSpace(v.PrivateKey) == "" {
			return fmt.Errorf("%w: jwt private key is required", errs.ErrInvalidCredential)
		}
		if _, err := token.ParsePrivateKey(v.PrivateKey); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidCredential, err)
		}
	case None:
		if plane != PlaneLegacy {
			return fmt.Errorf("%w: %s plane requires credentials", errs.ErrInvalidCredential, plane)
		}
	case nil:
		return fmt.Errorf("%w: missing credential", errs.ErrInvalidCredential)
	default:
		return fmt.Errorf("%w: unsupported credential %T", errs.ErrInvalidCredential, c)
	}
	return nil
}

// Signer signs data-plane tokens.
type Signer interface {
	Sign(privateKeyPEM string, opts token.Options) (string, error)
}

// Factory builds auth headers.
type Factory struct {
	signer Signer
}

// NewFactory creates a Factory that signs JWT credentials with signer.
func NewFactory(signer Signer) *Factory {
	return &Factory{signer: signer}
}

// Headers returns the headers that authenticate c on plane.
// JWT credentials are signed on every call with no custom claims and the
// default expiration.
func (f *Factory) Headers(plane Plane, c Credential) (http.Header, error) {
	h := make(http.Header)
	switch v := c.(type) {
	case Basic:
		h.Set("Authorization", "Basic "+v.Token)
	case JWT:
		signed, err := f.signer.Sign(v.PrivateKey, token.Options{})
		if err != nil {
			return nil, err
		}
		h.Set("Authorization", "Bearer "+signed)
	case None:
		if plane != PlaneLegacy {
			return nil, fmt.Errorf("%w: %s plane requires credentials", errs.ErrInvalidCredential, plane)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported credential %T", errs.ErrInvalidCredential, c)
	}
	return h, nil
}

// wire is the JSON form of a credential.
type wire struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// Marshal encodes c as {"type": ..., "token"|"privateKey": ...}.
func Marshal(c Credential) ([]byte, error) {
	switch v := c.(type) {
	case Basic:
		return json.Marshal(wire{Type: TypeBasic, Token: v.Token})
	case JWT:
		return json.Marshal(wire{Type: TypeJWT, PrivateKey: v.PrivateKey})
	case None:
		return json.Marshal(wire{Type: TypeNone})
	default:
		return nil, fmt.Errorf("%w: unsupported credential %T", errs.ErrInvalidCredential, c)
	}
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(data []byte) (Credential, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCredential, err)
	}
	switch w.Type {
	case TypeBasic:
		return Basic{Token: w.Token}, nil
	case TypeJWT:
		return JWT{PrivateKey: w.PrivateKey}, nil
	case TypeNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown credential type %q", errs.ErrInvalidCredential, w.Type)
	}
}
