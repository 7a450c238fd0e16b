package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kozaktomas/face-gallery/internal/config"
)

type contextKey string

const callerContextKey contextKey = "caller"

// CallerHeader names the caller in development mode, when no JWT secret is
// configured.
const CallerHeader = "X-Caller-ID"

const anonymousCaller = "anonymous"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Authenticator validates bearer JWTs signed with HMAC and yields the caller
// id from the sub claim.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an authenticator. With an empty secret it trusts
// the X-Caller-ID header instead.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authenticate returns the caller id of the request.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if !a.Enabled() {
		if caller := strings.TrimSpace(r.Header.Get(CallerHeader)); caller != "" {
			return caller, nil
		}
		return anonymousCaller, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for subject, valid for ttl.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("no JWT secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// RequireCaller is middleware that rejects unauthenticated requests and puts
// the caller id into the request context.
func RequireCaller(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.Authenticate(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="face-gallery"`)
				http.Error(w, fmt.Sprintf(`{"error": %q, "kind": "unauthorized"}`, err.Error()), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetCallerInContext(r.Context(), caller)))
		})
	}
}

// CallerFromContext retrieves the caller id, empty if absent.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerContextKey).(string)
	return caller
}

// SetCallerInContext adds a caller id to the context.
// This is primarily for testing - use RequireCaller middleware in production.
func SetCallerInContext(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}
