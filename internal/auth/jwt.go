package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// User is the identity behind a verified access token.
type User struct {
	ID    string
	Phone string
}

type claims struct {
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens issued by the hosted auth provider.
type Verifier struct {
	secret   []byte
	audience string
}

func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience}
}

// Verify parses token and returns its user.
//
// Returns:
//   - error: auth.ErrUnauthenticated if the token is malformed, expired,
//     signed with another key or issued for another audience.
func (v *Verifier) Verify(token string) (*User, error) {
	const op = "auth.Verify"

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w: %w", op, ErrUnauthenticated, err)
	}

	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("%s:%w: missing subject", op, ErrUnauthenticated)
	}

	return &User{ID: c.Subject, Phone: c.Phone}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user stored by WithUser, or nil.
func UserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(ctxKey{}).(*User)
	return u
}
