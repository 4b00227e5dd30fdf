package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "seekcap")

	token, err := v.Sign(&Identity{
		UserID:        "user-1",
		Email:         "ops@example.com",
		RoleGrants:    []string{"admin", "customer"},
		EmailVerified: true,
	}, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)

	id := claims.Identity()
	require.Equal(t, "user-1", id.UserID)
	require.True(t, id.HasRole("ADMIN"))
	require.True(t, id.EmailVerified)
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier("secret", "seekcap")

	other, err := NewVerifier("other", "seekcap").Sign(&Identity{UserID: "u"}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	_, err = v.Verify(other)
	require.Error(t, err)

	wrongIssuer, err := NewVerifier("secret", "someone-else").Sign(&Identity{UserID: "u"}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	require.Error(t, err)

	expired, err := v.Sign(&Identity{UserID: "u"}, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.Error(t, err)
}

func TestNilIdentityHasNoRoles(t *testing.T) {
	var id *Identity
	require.False(t, id.HasRole("admin"))
}
