package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func jwksServer(t *testing.T, keys ...jose.JSONWebKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	body, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		Email: subject + "@example.com",
		Roles: []string{"customer"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "seekcap",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifierAcceptsKeySetTokens(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv, hits := jwksServer(t, jose.JSONWebKey{Key: &priv.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"})

	v := NewVerifier("", "seekcap").WithKeySet(NewKeySet(srv.URL))

	claims, err := v.Verify(signRS256(t, priv, "k1", "user-9"))
	require.NoError(t, err)
	require.Equal(t, "user-9", claims.Identity().UserID)
	require.True(t, claims.Identity().HasRole("customer"))

	_, err = v.Verify(signRS256(t, priv, "k1", "user-10"))
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestVerifierRejectsUnknownKid(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv, _ := jwksServer(t, jose.JSONWebKey{Key: &priv.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"})

	v := NewVerifier("", "seekcap").WithKeySet(NewKeySet(srv.URL))

	_, err = v.Verify(signRS256(t, priv, "rotated", "user-9"))
	require.Error(t, err)

	_, err = v.Verify(signRS256(t, other, "k1", "user-9"))
	require.Error(t, err)
}

func TestVerifierWithoutSecretRejectsHS256(t *testing.T) {
	srv, _ := jwksServer(t)
	v := NewVerifier("", "seekcap").WithKeySet(NewKeySet(srv.URL))

	forged, err := NewVerifier("guess", "seekcap").Sign(&Identity{UserID: "u"}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.Error(t, err)
}
