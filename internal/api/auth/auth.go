// Package auth implements the companion HTTP API's bearer-token guard for
// its /dataforge mutation routes (SPEC_FULL.md §11): HMAC-signed JWTs
// issued and verified via lestrrat-go/jwx/v2, checked on every request by
// labstack/echo-jwt/v4 middleware, plus bcrypt password hashing for a local
// credential store. It is grounded on the teacher's auth/auth.go
// token-service shape and api/basicauth.go's bcrypt verification, narrowed
// from the teacher's full user/role/refresh-token surface to the single
// "does this bearer token name an operator allowed to trigger a build"
// question the companion API needs answered.
package auth

import (
	"context"
	"fmt"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the bqm2 companion API's JWT payload: an operator name plus
// the standard registered claims jwx validates (exp, iat).
type Claims struct {
	Subject string
	Roles   []string
}

// Issuer signs and verifies bearer tokens against one shared HMAC secret,
// matching the teacher's TokenService but narrowed to a single symmetric
// key rather than a full key-rotation JWKS, since the companion API has no
// multi-tenant signing requirement.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer; secret should come from an environment
// variable or secret store, never a literal in code.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue mints a signed bearer token for claims.
func (i *Issuer) Issue(claims Claims) (string, error) {
	builder := jwt.NewBuilder().
		Subject(claims.Subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(i.ttl)).
		Claim("roles", claims.Roles)

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("auth: building token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates raw, returning its Claims.
func (i *Issuer) Verify(ctx context.Context, raw string) (Claims, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, i.secret),
		jwt.WithValidate(true),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("auth: verifying token: %w", err)
	}

	var roles []string
	if raw, ok := token.Get("roles"); ok {
		if list, ok := raw.([]interface{}); ok {
			for _, r := range list {
				if s, ok := r.(string); ok {
					roles = append(roles, s)
				}
			}
		}
	}
	return Claims{Subject: token.Subject(), Roles: roles}, nil
}

// EchoMiddleware returns the echo-jwt middleware guarding /dataforge's
// mutation routes, using i's HMAC secret as the signing key.
func (i *Issuer) EchoMiddleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: i.secret,
	})
}

// HashPassword bcrypt-hashes a local operator credential, grounded on the
// teacher's security.HashPassword used by api/basicauth.go.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash produced by
// HashPassword.
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
