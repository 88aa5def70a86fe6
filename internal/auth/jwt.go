package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried in the tokens the authentication service issues. The user
// identifier rides in the registered subject claim.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates signed bearer tokens locally against a shared
// secret. It is the shipped Resolver; deployments that verify tokens against
// a remote service substitute their own implementation.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver creates a resolver for HMAC-signed tokens. An empty issuer
// disables issuer checking.
func NewJWTResolver(secret []byte, issuer string) *JWTResolver {
	return &JWTResolver{secret: secret, issuer: issuer}
}

// Resolve validates the token signature, expiry and issuer, and extracts the
// bound identity.
func (r *JWTResolver) Resolve(_ context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenNotFound
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrTokenNotFound
	}

	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}
