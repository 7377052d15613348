// internal/middleware/jwt.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"feedline/internal/config"
	"feedline/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "feedline-api"

// Claims represents the JWT claims for our application
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(cfg *config.AuthConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(cfg.JWTSecret), ttl: ttl}
}

// GenerateToken creates a new JWT token for the given user ID
func (ti *TokenIssuer) GenerateToken(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ti.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates the provided JWT token
func (ti *TokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return ti.secret, nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter that browser websocket clients use.
func bearerToken(r *http.Request) (string, bool, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, true, nil
		}
		return "", false, nil
	}
	tok, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tok == "" {
		return "", true, errors.New("invalid authorization format")
	}
	return tok, true, nil
}

// Authenticate resolves the caller. Requests without credentials continue
// anonymously; requests with bad credentials are rejected with 401 so a
// stale token never silently downgrades to anonymous access.
func (ti *TokenIssuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, present, err := bearerToken(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			WriteError(w, utils.NewAppError(utils.ErrInvalidToken, err.Error(), nil))
			return
		}
		claims, err := ti.ValidateToken(tok)
		if err != nil {
			slog.Debug("rejected token", "path", r.URL.Path, "error", err)
			WriteError(w, utils.NewAppError(utils.ErrInvalidToken, "invalid or expired token", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(SetUserIDInContext(r.Context(), claims.UserID)))
	})
}

// Define a custom context key type to avoid collisions
type contextKey string

// UserIDKey is the key used to store the user ID in the context
const UserIDKey contextKey = "user_id"

// SetUserIDInContext saves the user ID in the request context
func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// RequireUser returns the caller's id or an UNAUTHENTICATED error.
func RequireUser(ctx context.Context) (string, error) {
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		return "", utils.NewUnauthenticatedError("sign in required")
	}
	return userID, nil
}
