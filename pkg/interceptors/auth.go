package interceptors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// NewAuth verifies the bearer token of every request whose path is not in
// public and stores its user id on the context. Tokens are HS256 signed with
// secret.
func NewAuth(secret []byte, public ...string) Middleware {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			uid, err := authenticate(r, secret)
			if err != nil {
				common.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), uid)))
		})
	}
}

func authenticate(r *http.Request, secret []byte) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: missing bearer token", common.ErrUnauthenticated)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: token verification is not configured", common.ErrUnauthenticated)
	}

	claims := &common.Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", common.ErrUnauthenticated)
		}
		return "", fmt.Errorf("%w: invalid token", common.ErrUnauthenticated)
	}
	uid := claims.Subject()
	if uid == "" {
		return "", fmt.Errorf("%w: token has no subject", common.ErrUnauthenticated)
	}
	return uid, nil
}
