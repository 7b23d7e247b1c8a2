package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/storefront/api/internal/platform/httpx"
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	// ErrTokenRevoked covers revoked sessions and disabled accounts.
	ErrTokenRevoked = errors.New("auth: firebase session revoked")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into request identities.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim names the custom claim that carries roles. Defaults to "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole is assumed for tokens without a role claim. Empty rejects them instead.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) { a.fallbackRole = normaliseRole(role) }
}

// WithVerificationTimeout bounds each VerifyIDToken call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator returns an Authenticator that treats role-less tokens as CLIENT.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    "role",
		fallbackRole: RoleClient,
		timeout:      5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// rejection is an authentication failure rendered as the standard error envelope.
type rejection struct {
	status  int
	code    string
	message string
}

func (r *rejection) write(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError(r.code, r.message, r.status))
}

var (
	rejectNoCredentials = &rejection{http.StatusUnauthorized, "unauthenticated", "bearer token required"}
	rejectBadHeader     = &rejection{http.StatusUnauthorized, "unauthenticated", "authorization header is not a bearer token"}
	rejectUnavailable   = &rejection{http.StatusServiceUnavailable, "unavailable", "authorization service unavailable"}
	rejectExpired       = &rejection{http.StatusUnauthorized, "token_expired", "firebase id token expired"}
	rejectRevoked       = &rejection{http.StatusUnauthorized, "token_revoked", "firebase session revoked"}
	rejectInvalid       = &rejection{http.StatusUnauthorized, "invalid_token", "firebase id token invalid"}
	rejectNoRole        = &rejection{http.StatusForbidden, "missing_role", "no roles associated with identity"}
	rejectForbidden     = &rejection{http.StatusForbidden, "forbidden", "identity does not have required role"}
)

// RequireFirebaseAuth answers 401 without a valid bearer token and 403 when the identity holds
// none of allowedRoles. No roles admits any signed-in user.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return a.middleware(false, allowedRoles)
}

// OptionalFirebaseAuth lets requests without an Authorization header through as guests. A
// header that is present must still verify.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return a.middleware(true, nil)
}

func (a *Authenticator) middleware(optional bool, allowedRoles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				rejectNoCredentials.write(w, r)
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				rejectBadHeader.write(w, r)
				return
			}
			identity, rej := a.authenticate(r.Context(), token)
			if rej == nil && len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				rej = rejectForbidden
			}
			if rej != nil {
				rej.write(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (*Identity, *rejection) {
	if a == nil || a.verifier == nil {
		return nil, rejectUnavailable
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	token, err := a.verifier.VerifyIDToken(ctx, raw)
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return nil, rejectExpired
	case errors.Is(err, ErrTokenRevoked):
		return nil, rejectRevoked
	default:
		return nil, rejectInvalid
	}

	roles := rolesFromClaims(token.Claims, a.roleClaim)
	if len(roles) == 0 {
		if a.fallbackRole == "" {
			return nil, rejectNoRole
		}
		roles = []string{a.fallbackRole}
	}
	email, _ := token.Claims["email"].(string)
	return &Identity{UID: token.UID, Email: strings.TrimSpace(email), Roles: roles, token: token}, nil
}

// rolesFromClaims reads the role claim as a string, a list, or a map of flags, and returns
// normalised roles without duplicates.
func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = append(raw, v)
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for role, flag := range v {
			if on, _ := flag.(bool); on {
				raw = append(raw, role)
			}
		}
	}

	roles := make([]string, 0, len(raw))
	for _, candidate := range raw {
		role := normaliseRole(candidate)
		if role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	return roles
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
