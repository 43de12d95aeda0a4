// Package auth guards the mutating control-plane endpoints with bearer
// tokens: a static API token, or an HS256-signed JWT.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyAuthInfo ctxKey = "braincanary.authInfo"

// Info holds the authenticated caller's identity for the request.
type Info struct {
	// Subject is the static-token caller label or the JWT sub claim.
	Subject string
}

// FromContext returns the Info stored in the request context, or nil.
func FromContext(ctx context.Context) *Info {
	v := ctx.Value(ctxKeyAuthInfo)
	if v == nil {
		return nil
	}
	if info, ok := v.(*Info); ok {
		return info
	}
	return nil
}

// Config selects the accepted credentials. With both fields empty the
// middleware is a no-op; the operator has opted into an open control plane.
type Config struct {
	APIToken  string
	JWTSecret string
}

// Middleware enforces bearer auth on wrapped handlers.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	open := cfg.APIToken == "" && cfg.JWTSecret == ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			info, ok := authenticate(cfg, token)
			if !ok {
				unauthorized(w, "invalid credentials")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAuthInfo, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(cfg Config, token string) (*Info, bool) {
	if cfg.APIToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIToken)) == 1 {
		return &Info{Subject: "api-token"}, true
	}
	if cfg.JWTSecret != "" {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			return nil, false
		}
		sub, _ := parsed.Claims.GetSubject()
		return &Info{Subject: sub}, true
	}
	return nil, false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
