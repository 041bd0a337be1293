package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/people/pkg/auth"
	"github.com/platinummonkey/people/pkg/contextkeys"
	"github.com/platinummonkey/people/pkg/httputil"
)

// DefaultTenantClaim is the token claim carrying the caller's tenant
const DefaultTenantClaim = "tenantId"

// TokenVerifier verifies a raw bearer token. *oidc.IDTokenVerifier
// satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*oidc.IDToken, error)
}

// NewOIDCVerifier discovers issuerURL and returns a verifier for tokens
// issued to clientID. An empty clientID skips the audience check.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer %s: %w", issuerURL, err)
	}
	return provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}), nil
}

// AuthConfig controls token handling
type AuthConfig struct {
	// TenantClaim names the claim holding the tenant id
	TenantClaim string
	// Optional lets requests without a token through unauthenticated
	Optional bool
	Logger   logrus.FieldLogger
}

// Authenticator establishes the caller identity from a bearer token
type Authenticator struct {
	verifier    TokenVerifier
	tenantClaim string
	optional    bool
	logger      logrus.FieldLogger
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(verifier TokenVerifier, cfg AuthConfig) *Authenticator {
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = DefaultTenantClaim
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Authenticator{
		verifier:    verifier,
		tenantClaim: cfg.TenantClaim,
		optional:    cfg.Optional,
		logger:      cfg.Logger,
	}
}

type tokenClaims struct {
	Subject     string   `json:"sub"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Handler wraps an HTTP handler with authentication
func (m *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.authenticate(r.Context(), parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("bearer token rejected")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		if authCtx.TenantID != "" {
			ctx = contextkeys.WithTenant(ctx, authCtx.TenantID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Authenticator) authenticate(ctx context.Context, raw string) (*auth.AuthContext, error) {
	token, err := m.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	var claims tokenClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}
	var extra map[string]interface{}
	if err := token.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}

	authCtx := &auth.AuthContext{
		Subject: claims.Subject,
		Email:   claims.Email,
	}
	if tenant, ok := extra[m.tenantClaim].(string); ok {
		authCtx.TenantID = tenant
	}
	seen := map[string]bool{}
	for _, role := range append(claims.RealmAccess.Roles, claims.Roles...) {
		if !seen[role] {
			seen[role] = true
			authCtx.Roles = append(authCtx.Roles, auth.Role(role))
		}
	}
	return authCtx, nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// RequireRoles rejects callers without at least one of roles. With no
// roles it only requires authentication.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !authCtx.HasAnyRole(roles...) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
