package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

var ErrBadToken = errors.New("invalid operator token")

// Claims identify an operator: the name commands run as and the access level
// they run with.
type Claims struct {
	Name   string `json:"name"`
	Access int    `json:"access"`
	jwt.StandardClaims
}

type claimsKey struct{}

// IssueToken signs an operator token. ttl zero means no expiry.
func IssueToken(secret []byte, name string, access int, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		Name:   name,
		Access: access,
		StandardClaims: jwt.StandardClaims{
			IssuedAt: now.Unix(),
			Subject:  name,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !token.Valid || claims.Name == "" {
		return nil, ErrBadToken
	}
	return claims, nil
}

// RequireOperator rejects requests without a valid bearer token and stores
// the claims in the request context.
func RequireOperator(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("missing bearer token"))
				return
			}
			claims, err := ParseToken(secret, raw)
			if err != nil {
				logger.Warn("operator token rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}
