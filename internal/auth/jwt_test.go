package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-key"

func mint(t *testing.T, secret string, c jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"aud":   "authenticated",
		"phone": "+15550100",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret, "authenticated")

	u, err := v.Verify(mint(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "+15550100", u.Phone)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier(testSecret, "authenticated")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAud := validClaims()
	wrongAud["aud"] = "anon"

	noSub := validClaims()
	delete(noSub, "sub")

	noExp := validClaims()
	delete(noExp, "exp")

	cases := map[string]string{
		"expired":      mint(t, testSecret, expired),
		"wrong secret": mint(t, "another-secret", validClaims()),
		"wrong aud":    mint(t, testSecret, wrongAud),
		"no subject":   mint(t, testSecret, noSub),
		"no expiry":    mint(t, testSecret, noExp),
		"garbage":      "not.a.token",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestUserContext(t *testing.T) {
	assert.Nil(t, UserFrom(context.Background()))

	ctx := WithUser(context.Background(), &User{ID: "user-1"})
	assert.Equal(t, "user-1", UserFrom(ctx).ID)
}
