package jwt

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{ name string }

func (c contextKey) String() string { return c.name }

var (
	jwtContextKey    = &contextKey{name: "jwt"}
	claimsContextKey = &contextKey{name: "jwt_claims"}
)

// SetToken stores the raw token string in the context.
func SetToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, jwtContextKey, token)
}

// SetClaims stores the parsed claims in the context.
func SetClaims(ctx context.Context, claims StandardClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetToken returns the raw token string from the context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(jwtContextKey).(string)
	return token, ok
}

// GetClaims returns the parsed claims from the context.
func GetClaims(ctx context.Context) (StandardClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(StandardClaims)
	return claims, ok
}

// SubjectFromContext returns the authenticated subject (the user ID) set by
// the middleware, or empty when the request is unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok {
		return ""
	}
	return claims.Subject
}
