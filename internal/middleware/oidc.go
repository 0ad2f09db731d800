package middleware

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/samber/oops"
)

// NewOIDCVerifier discovers issuer (e.g. a Keycloak realm URL) and returns
// a verifier for tokens whose audience includes clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	if issuer == "" || clientID == "" {
		return nil, oops.In("middleware").Errorf("oidc issuer and client id are required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, oops.
			In("middleware").
			With("issuer", issuer).
			Wrapf(err, "init oidc provider")
	}

	return provider.Verifier(&oidc.Config{
		ClientID: clientID,
	}), nil
}
