package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/sipico/sqld-gateway/internal/credential"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/metrics"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/token"
)

const day = 24 * time.Hour

// ExpiryChoices are the lifetimes a scoped token may be issued with, besides
// never expiring.
var ExpiryChoices = []time.Duration{
	day,
	7 * day,
	10 * day,
	30 * day,
	90 * day,
	365 * day,
}

// ScopedToken is a delegated token restricted to one namespace.
type ScopedToken struct {
	Token      string           `json:"token"`
	Permission token.Permission `json:"permission"`
	Namespace  string           `json:"namespace"`
}

// ValidateExpiry accepts Never, the default expiry and the ExpiryChoices.
func ValidateExpiry(e token.Expiry) error {
	d, ok := e.Duration()
	if !ok || d == token.DefaultExpiration {
		return nil
	}
	for _, choice := range ExpiryChoices {
		if d == choice {
			return nil
		}
	}
	return errs.Invalid("expiresInSec %d is not an offered token lifetime", int64(d/time.Second))
}

// IssueScopedToken signs a token granting permission on namespace with the
// server's data-plane key. Only servers with a jwt data-plane credential can
// issue scoped tokens. Nothing is persisted.
func (g *Gateway) IssueScopedToken(ctx context.Context, id, namespace string, permission token.Permission, expiry token.Expiry) (ScopedToken, error) {
	if err := sqld.ValidateNamespaceName(namespace); err != nil {
		return ScopedToken{}, err
	}
	if _, err := token.ParsePermission(string(permission)); err != nil {
		return ScopedToken{}, err
	}
	if err := ValidateExpiry(expiry); err != nil {
		return ScopedToken{}, err
	}

	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return ScopedToken{}, err
	}
	key, ok := srv.NormalAuth.(credential.JWT)
	if !ok {
		return ScopedToken{}, fmt.Errorf("%w: server %s does not use jwt data-plane auth", errs.ErrInvalidCredential, id)
	}

	signed, err := g.signer.Sign(key.PrivateKey, token.Options{
		Permission: permission,
		Namespace:  namespace,
		Expiry:     expiry,
	})
	if err != nil {
		return ScopedToken{}, err
	}

	metrics.RecordTokenIssued(string(permission))
	g.logger.Info("scoped token issued", "server_id", id, "namespace", namespace, "permission", permission)
	return ScopedToken{Token: signed, Permission: permission, Namespace: namespace}, nil
}
