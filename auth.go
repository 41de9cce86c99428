package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "user_id"

// authMiddleware validates the bearer token on every API request and puts
// the subject user id on the request context. Token issuance belongs to the
// external auth collaborator; this service only verifies.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeEnvelope(w, http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Success: false, Message: "missing bearer token"})
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), keyFunc,
				jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeEnvelope(w, http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Success: false, Message: "invalid token"})
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				writeEnvelope(w, http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Success: false, Message: "token has no subject"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, subject)))
		})
	}
}

// userID returns the authenticated user of the request.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// issueToken mints an HS256 token for a user. Exposed for operational
// tooling and tests; production tokens come from the auth provider.
func issueToken(secret, user string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
