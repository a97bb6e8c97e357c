package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type adminCtxKey struct{}

// DefaultActor is recorded on manual tags when no authenticated subject exists.
const DefaultActor = "admin"

const adminClockSkew = 30 * time.Second

// AdminAuthOption tightens token validation.
type AdminAuthOption func(*[]jwt.ParserOption)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) AdminAuthOption {
	return func(opts *[]jwt.ParserOption) {
		if iss = strings.TrimSpace(iss); iss != "" {
			*opts = append(*opts, jwt.WithIssuer(iss))
		}
	}
}

// AdminJWT accepts HS256 bearer tokens signed with secret that carry an exp
// claim. Tokens are minted outside this service.
func AdminJWT(secret string, opts ...AdminAuthOption) func(http.Handler) http.Handler {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(adminClockSkew),
	}
	for _, opt := range opts {
		opt(&parserOpts)
	}
	parser := jwt.NewParser(parserOpts...)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin auth disabled")
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminCtxKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AdminClaimsFromContext returns the verified token claims, if any.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminCtxKey{}).(jwt.RegisteredClaims)
	return claims, ok
}

// ActorFromContext is the token subject, or DefaultActor when the API runs
// without auth.
func ActorFromContext(ctx context.Context) string {
	if claims, ok := AdminClaimsFromContext(ctx); ok {
		if sub := strings.TrimSpace(claims.Subject); sub != "" {
			return sub
		}
	}
	return DefaultActor
}
