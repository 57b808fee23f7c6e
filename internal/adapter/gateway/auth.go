package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// RoleAdmin grants access to the /api/endpoints and /api/logs routes.
const RoleAdmin = "admin"

// ClientInfo holds metadata about an authenticated admin caller.
type ClientInfo struct {
	Name  string
	Roles []string
}

// IsAdmin reports whether the caller holds the admin role.
func (c *ClientInfo) IsAdmin() bool {
	return slices.Contains(c.Roles, RoleAdmin)
}

// Authenticator validates bearer tokens presented to admin routes.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// NewAuthenticator builds the authenticator for cfg. It returns nil for
// auth type "none", which leaves admin routes open.
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "static":
		return NewStaticTokenAuth(cfg.Tokens), nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth: jwt_secret is required for jwt auth")
		}
		return NewJWTAuth([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
	default:
		return nil, fmt.Errorf("auth: unknown type %q", cfg.Type)
	}
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates callers against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
// Tokens without roles are treated as admin.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		roles := t.Roles
		if len(roles) == 0 {
			roles = []string{RoleAdmin}
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name, Roles: roles},
		})
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// JWTAuth validates HS256 tokens. The caller's roles come from a "role"
// string claim or a "roles" array claim.
type JWTAuth struct {
	secret []byte
	issuer string
}

// NewJWTAuth creates a JWT authenticator. An empty issuer skips the iss check.
func NewJWTAuth(secret []byte, issuer string) *JWTAuth {
	return &JWTAuth{secret: secret, issuer: issuer}
}

type adminClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate implements Authenticator.
func (a *JWTAuth) Authenticate(token string) (*ClientInfo, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims adminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayAuthFailed, err)
	}

	roles := claims.Roles
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	return &ClientInfo{Name: claims.Subject, Roles: roles}, nil
}

// IssueJWT signs an admin token. Used by the CLI and tests.
func IssueJWT(secret []byte, issuer, subject string, roles []string, claims jwt.RegisteredClaims) (string, error) {
	claims.Issuer = issuer
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{Roles: roles, RegisteredClaims: claims})
	return token.SignedString(secret)
}

// requireAdmin rejects requests without a valid admin bearer token. A nil
// authenticator allows everything.
func requireAdmin(auth Authenticator, next http.HandlerFunc) http.HandlerFunc {
	if auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeDomainError(w, fmt.Errorf("%w: missing bearer token", domain.ErrGatewayAuthFailed))
			return
		}
		client, err := auth.Authenticate(token)
		if err != nil {
			if !errors.Is(err, domain.ErrGatewayAuthFailed) {
				err = fmt.Errorf("%w: %v", domain.ErrGatewayAuthFailed, err)
			}
			writeDomainError(w, err)
			return
		}
		if !client.IsAdmin() {
			writeDomainError(w, domain.ErrForbidden)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
