package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

// PushIdentity is the verified service account behind a Pub/Sub push request.
type PushIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

// PushAuthConfig describes which Google-signed tokens a push endpoint accepts.
type PushAuthConfig struct {
	Audience string
	Issuers  []string
	// ServiceAccounts restricts the token email when non-empty.
	ServiceAccounts []string
}

// PushAuthenticator verifies the OIDC token Pub/Sub attaches to push deliveries.
type PushAuthenticator struct {
	keys   *JWKSCache
	cfg    PushAuthConfig
	logger Logger
}

// NewPushAuthenticator builds a PushAuthenticator. A nil logger discards diagnostics.
func NewPushAuthenticator(keys *JWKSCache, cfg PushAuthConfig, logger Logger) *PushAuthenticator {
	if logger == nil {
		logger = discardLogger{}
	}
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &PushAuthenticator{keys: keys, cfg: cfg, logger: logger}
}

type pushIdentityKey struct{}

// PushIdentityFromContext returns the push caller stored by Require.
func PushIdentityFromContext(ctx context.Context) (*PushIdentity, bool) {
	identity, ok := ctx.Value(pushIdentityKey{}).(*PushIdentity)
	return identity, ok && identity != nil
}

// Require rejects push requests without a valid token. An unreachable JWKS endpoint answers 503
// so Pub/Sub redelivers instead of dropping the message.
func (p *PushAuthenticator) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p == nil || p.keys == nil || p.cfg.Audience == "" {
				(&rejection{http.StatusServiceUnavailable, "verification_unavailable", "push verification not configured"}).write(w, r)
				return
			}
			tokenStr, ok := bearerToken(strings.TrimSpace(r.Header.Get("Authorization")))
			if !ok {
				(&rejection{http.StatusUnauthorized, "unauthenticated", "push token missing"}).write(w, r)
				return
			}

			identity, reason, err := p.verify(r.Context(), tokenStr)
			if err != nil {
				p.logger.Printf("auth: push verification failed (%s): %v", reason, err)
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				(&rejection{status, "invalid_token", "push token verification failed"}).write(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), pushIdentityKey{}, identity)))
		})
	}
}

func (p *PushAuthenticator) verify(ctx context.Context, tokenStr string) (*PushIdentity, string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenStr, claims, p.keys.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, "jwks_unavailable", err
		}
		return nil, "token_invalid", err
	}

	issuer, _ := claims["iss"].(string)
	if len(p.cfg.Issuers) > 0 && !slices.Contains(p.cfg.Issuers, issuer) {
		return nil, "issuer_mismatch", errors.New("issuer " + issuer + " not allowed")
	}
	if !claims.VerifyAudience(p.cfg.Audience, true) {
		return nil, "audience_mismatch", errors.New("audience mismatch")
	}

	email, _ := claims["email"].(string)
	if len(p.cfg.ServiceAccounts) > 0 {
		verified, _ := claims["email_verified"].(bool)
		if !verified || !slices.Contains(p.cfg.ServiceAccounts, email) {
			return nil, "service_account_mismatch", errors.New("caller " + email + " not allowed")
		}
	}

	subject, _ := claims["sub"].(string)
	return &PushIdentity{Subject: subject, Email: email, Issuer: issuer}, "", nil
}
