package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Fixed key so tokens are reproducible across test runs
	InitJWTKey([]byte("test-secret-key"))
}

func TestIssueAndVerify(t *testing.T) {
	userID := uuid.New()

	token, expiry, err := IssueToken(userID, "donor-jane", 24*time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiry, 5*time.Second)

	gotID, claims, err := VerifyCredential(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, "donor-jane", claims.Name)
}

func TestIssueTokenNilUser(t *testing.T) {
	_, _, err := IssueToken(uuid.Nil, "someone", time.Hour)
	assert.Error(t, err)
}

func TestVerifyCredentialErrors(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		_, _, err := VerifyCredential("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, _, err := VerifyCredential("not.a.token")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := IssueToken(uuid.New(), "expired", -time.Hour)
		require.NoError(t, err)

		_, _, err = VerifyCredential(token)
		assert.Error(t, err)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, _, err := IssueToken(uuid.New(), "someone", time.Hour)
		require.NoError(t, err)

		InitJWTKey([]byte("a-different-secret"))
		defer InitJWTKey([]byte("test-secret-key"))

		_, _, err = VerifyCredential(token)
		assert.Error(t, err)
	})

	t.Run("malformed user id in claims", func(t *testing.T) {
		claims := &SessionClaims{
			UserID: "not-a-uuid",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-secret-key"))
		require.NoError(t, err)

		_, _, err = VerifyCredential(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unexpected signing method", func(t *testing.T) {
		// alg=none style tokens must be rejected
		claims := &SessionClaims{UserID: uuid.New().String()}
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, _, err = VerifyCredential(signed)
		assert.Error(t, err)
	})
}
