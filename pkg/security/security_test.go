package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherRoundTrip(t *testing.T) {
	h := NewHasher()
	h.Memory = 1024
	h.Iterations = 1

	encoded, err := h.Hash("hunter22")
	require.NoError(t, err)

	ok, err := h.Verify("hunter22", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("hunter23", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("hunter22", "$bcrypt$nope")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestSigner(t *testing.T) {
	s := NewSigner("secret", time.Minute)

	tok, err := s.Sign("u1", true, "")
	require.NoError(t, err)

	claims, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.Anonymous)

	_, err = NewSigner("other", time.Minute).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	str, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = s.Parse(str)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
