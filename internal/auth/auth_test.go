package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/actor"
)

func TestTokenPairRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "primal-pages")
	act := actor.Actor{ID: "alice", TenantID: "t1"}

	pair, err := m.CreateTokenPair(act)
	require.NoError(t, err)

	got, err := m.ValidateAccessToken(pair.AccessJwt)
	require.NoError(t, err)
	assert.Equal(t, act, got)

	got, err = m.ValidateRefreshToken(pair.RefreshJwt)
	require.NoError(t, err)
	assert.Equal(t, act, got)

	_, err = m.ValidateAccessToken(pair.RefreshJwt)
	assert.Error(t, err, "refresh token must not authorize calls")
	_, err = m.ValidateRefreshToken(pair.AccessJwt)
	assert.Error(t, err)
}

func TestTokenRejections(t *testing.T) {
	m := NewJWTManager("secret", "primal-pages")
	act := actor.Actor{ID: "alice", TenantID: "t1"}

	_, err := m.CreateTokenPair(actor.Actor{ID: "alice"})
	assert.Error(t, err)

	pair, err := m.CreateTokenPair(act)
	require.NoError(t, err)

	_, err = NewJWTManager("other", "primal-pages").ValidateAccessToken(pair.AccessJwt)
	assert.Error(t, err, "wrong secret")

	_, err = NewJWTManager("secret", "someone-else").ValidateAccessToken(pair.AccessJwt)
	assert.Error(t, err, "wrong issuer")

	late := NewJWTManager("secret", "primal-pages")
	late.now = func() time.Time { return time.Now().Add(AccessTTL + time.Minute) }
	_, err = late.ValidateAccessToken(pair.AccessJwt)
	assert.Error(t, err, "expired")

	_, err = m.ValidateAccessToken("not.a.jwt")
	assert.Error(t, err)
}

func TestAdminKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	hash, err := HashKey(key)
	require.NoError(t, err)
	assert.NoError(t, CheckKey(hash, key))
	assert.Error(t, CheckKey(hash, key+"x"))
}
