// Package auth gates HTTP routes behind an HS256 bearer token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type contextKey struct{}

// Verifier checks bearer tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	logger *zap.Logger
}

// NewVerifier creates a Verifier. An empty secret disables verification.
func NewVerifier(secret string, logger *zap.Logger) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		logger: logger,
	}
}

// Enabled reports whether tokens are checked.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a token with 401 and requests with a bad
// token with 403. Verified claims are stored on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	if !v.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Verify(bearerToken(r))
		switch {
		case errors.Is(err, ErrMissingToken):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		case err != nil:
			v.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// Claims returns the verified claims stored by Middleware.
func Claims(ctx context.Context) (jwt.MapClaims, bool) {
	c, ok := ctx.Value(contextKey{}).(jwt.MapClaims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
