package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kozaktomas/face-gallery/internal/config"
)

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(CallerFromContext(r.Context())))
	})
}

func TestRequireCaller_ValidToken(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "idp"})
	token, err := auth.IssueToken("operator-7", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	RequireCaller(auth)(callerEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "operator-7" {
		t.Errorf("expected caller operator-7, got %q", rec.Body.String())
	}
}

func TestRequireCaller_Rejects(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "idp"})

	sign := func(secret string, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + sign("other", jwt.RegisteredClaims{Subject: "x", Issuer: "idp", ExpiresAt: future})},
		{"expired", "Bearer " + sign("s3cret", jwt.RegisteredClaims{Subject: "x", Issuer: "idp", ExpiresAt: past})},
		{"wrong issuer", "Bearer " + sign("s3cret", jwt.RegisteredClaims{Subject: "x", Issuer: "evil", ExpiresAt: future})},
		{"no subject", "Bearer " + sign("s3cret", jwt.RegisteredClaims{Issuer: "idp", ExpiresAt: future})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/people", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireCaller(auth)(callerEcho()).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireCaller_DevMode(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{})
	if auth.Enabled() {
		t.Fatal("authenticator without secret must be disabled")
	}

	tests := []struct {
		header   string
		expected string
	}{
		{"kiosk-3", "kiosk-3"},
		{"", "anonymous"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set(CallerHeader, tt.header)
		}
		rec := httptest.NewRecorder()
		RequireCaller(auth)(callerEcho()).ServeHTTP(rec, req)
		if rec.Body.String() != tt.expected {
			t.Errorf("expected caller %q, got %q", tt.expected, rec.Body.String())
		}
	}

	if _, err := auth.IssueToken("x", time.Minute); err == nil {
		t.Error("expected error issuing a token without secret")
	}
}
