// Package middleware provides HTTP middleware for the assistant server.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// SessionIDKey is the context key for the assistant session id.
	SessionIDKey ContextKey = "session_id"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "assistant_session"

// SessionHeader echoes a freshly issued token for clients without cookies.
const SessionHeader = "X-Session-Token"

const tokenIssuer = "listing-assistant"

// Claims represents session token claims. The subject is the session id.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for sessionID.
func IssueToken(secret, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  sessionID,
		Issuer:   tokenIssuer,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a session token and returns its session id.
func ParseToken(secret, tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid session token")
	}
	if err := ValidateSessionID(claims.Subject); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Session resolves the caller's assistant session from a bearer token or
// the session cookie. Callers without a valid token get a new session id
// and a fresh token in both the cookie and SessionHeader.
func Session(secret string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := ParseToken(secret, requestToken(r))
			if err != nil {
				id, err := uuid.NewV7()
				if err != nil {
					http.Error(w, `{"error":"failed to create session"}`, http.StatusInternalServerError)
					return
				}
				sessionID = id.String()
				token, err := IssueToken(secret, sessionID, ttl)
				if err != nil {
					http.Error(w, `{"error":"failed to create session"}`, http.StatusInternalServerError)
					return
				}
				cookie := &http.Cookie{
					Name:     SessionCookie,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteLaxMode,
				}
				if ttl > 0 {
					cookie.MaxAge = int(ttl.Seconds())
				}
				http.SetCookie(w, cookie)
				w.Header().Set(SessionHeader, token)
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.sessionID = sessionID
			}
			ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// GetSessionID gets the session id from context.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}
