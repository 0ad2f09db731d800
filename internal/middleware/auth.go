package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// unexported, collision-proof context key
type principalContextKeyType struct{}

var principalKey = principalContextKeyType{}

// PrincipalAPIToken identifies callers that presented the static token.
const PrincipalAPIToken = "api-token"

// PrincipalFromContext returns who authenticated the request: the static
// token principal or the OIDC subject.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey).(string)
	return p, ok
}

// TokenVerifier checks OIDC bearer tokens; *oidc.IDTokenVerifier
// satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// AuthMiddleware guards routes with a static bearer token (bcrypt hash
// from configuration) and/or OIDC tokens. With neither configured every
// request passes.
type AuthMiddleware struct {
	TokenHash string
	Verifier  TokenVerifier
}

func NewAuthMiddleware(tokenHash string, verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{TokenHash: tokenHash, Verifier: verifier}
}

func (a *AuthMiddleware) Enabled() bool {
	return a.TokenHash != "" || a.Verifier != nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate returns the principal for token, or "" when rejected.
func (a *AuthMiddleware) authenticate(ctx context.Context, token string) string {
	if a.TokenHash != "" && VerifyToken(a.TokenHash, token) == nil {
		return PrincipalAPIToken
	}
	if a.Verifier != nil {
		idToken, err := a.Verifier.Verify(ctx, token)
		if err == nil && idToken.Subject != "" {
			return idToken.Subject
		}
	}
	return ""
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		// 1. Read bearer token
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// 2. Static token first, then OIDC
		principal := a.authenticate(r.Context(), token)
		if principal == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// 3. Attach principal to context
		ctx := context.WithValue(r.Context(), principalKey, principal)

		// 4. Continue request
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
