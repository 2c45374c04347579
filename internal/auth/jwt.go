package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
)

// Authenticator resolves an access token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*User, error)
}

type supabaseClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates Supabase access tokens locally with the project's
// HS256 signing secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Authenticate(_ context.Context, token string) (*User, error) {
	claims := &supabaseClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, unauthenticated("token parse error")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, unauthenticated("token missing user ID")
	}

	return &User{ID: claims.Subject, Email: claims.Email}, nil
}

func unauthenticated(msg string) error {
	return ierr.NewError(msg).
		WithHint("Unauthorized").
		Mark(ierr.ErrUnauthenticated)
}
