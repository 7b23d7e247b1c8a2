package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, authz string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireFirebaseAuthAllowsManager(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "usr_1",
		Claims: map[string]any{
			"role":  []any{"manager", "MANAGER", "delivery"},
			"email": "boss@example.com",
		},
	}}
	authn := NewAuthenticator(verifier)

	rr, identity := serve(t, authn.RequireFirebaseAuth(RoleManager), "Bearer token-123")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "token-123" {
		t.Fatalf("expected bearer token forwarded, got %q", verifier.received)
	}
	if identity == nil || identity.UID != "usr_1" || identity.Email != "boss@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.HasRole("manager") || !identity.HasRole(RoleDelivery) {
		t.Fatalf("expected deduplicated upper-case roles, got %v", identity.Roles)
	}
	if identity.Token() == nil {
		t.Fatalf("expected token retained on identity")
	}
}

func TestRequireFirebaseAuthDefaultsToClient(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "usr_2", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	rr, identity := serve(t, authn.RequireFirebaseAuth(), "Bearer t")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !identity.HasRole(RoleClient) {
		t.Fatalf("expected CLIENT fallback role, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthForbidsMissingRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "usr_3", Claims: map[string]any{"role": map[string]any{"client": true, "manager": false}}}}
	authn := NewAuthenticator(verifier)

	rr, _ := serve(t, authn.RequireFirebaseAuth(RoleManager), "Bearer t")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "forbidden" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRequireFirebaseAuthRejectsBadTokens(t *testing.T) {
	cases := []struct {
		name   string
		authz  string
		err    error
		status int
		code   string
	}{
		{name: "missing header", authz: "", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", authz: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "expired", authz: "Bearer t", err: ErrTokenExpired, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", authz: "Bearer t", err: errors.New("bad signature"), status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "revoked", authz: "Bearer t", err: fmt.Errorf("%w: session", ErrTokenRevoked), status: http.StatusUnauthorized, code: "token_revoked"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{err: tc.err, token: &firebaseauth.Token{UID: "u"}})
			rr, identity := serve(t, authn.RequireFirebaseAuth(), tc.authz)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if identity != nil {
				t.Fatalf("handler must not run")
			}
			var body map[string]any
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOptionalFirebaseAuth(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "usr_4", Claims: map[string]any{"role": "client"}}}
	authn := NewAuthenticator(verifier)

	rr, identity := serve(t, authn.OptionalFirebaseAuth(), "")
	if rr.Code != http.StatusNoContent || identity != nil {
		t.Fatalf("expected guest passthrough, got %d %+v", rr.Code, identity)
	}

	rr, identity = serve(t, authn.OptionalFirebaseAuth(), "Bearer t")
	if rr.Code != http.StatusNoContent || identity == nil || identity.UID != "usr_4" {
		t.Fatalf("expected identity for signed-in caller, got %d %+v", rr.Code, identity)
	}

	verifier.err = errors.New("bad")
	rr, _ = serve(t, authn.OptionalFirebaseAuth(), "Bearer t")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token rejected, got %d", rr.Code)
	}
}
