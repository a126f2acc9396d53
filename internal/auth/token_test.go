package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdesk/pkg/exception"
)

func TestIssueAndAuthenticate(t *testing.T) {
	v := NewValidator("secret")

	token, err := v.Issue("user-1", time.Minute)
	require.NoError(t, err)

	id, err := v.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestAuthenticateIDClaim(t *testing.T) {
	v := NewValidator("secret")

	testCases := []struct {
		desc   string
		claims jwt.MapClaims
		want   string
	}{
		{"string id", jwt.MapClaims{"id": "abc", "email": "a@b.c"}, "abc"},
		{"numeric id", jwt.MapClaims{"id": 42}, "42"},
		{"sub wins", jwt.MapClaims{"sub": "s", "id": "i"}, "s"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc.claims).SignedString([]byte("secret"))
			require.NoError(t, err)

			id, err := v.Authenticate(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	v := NewValidator("secret")
	other := NewValidator("other")

	expired := NewValidator("secret")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredToken, err := expired.Issue("user-1", time.Minute)
	require.NoError(t, err)

	wrongKey, err := other.Issue("user-1", 0)
	require.NoError(t, err)

	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@b.c"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for desc, raw := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"expired":   expiredToken,
		"wrong key": wrongKey,
		"no id":     noID,
		"alg none":  none,
	} {
		t.Run(desc, func(t *testing.T) {
			_, err := v.Authenticate(raw)
			assert.ErrorIs(t, err, exception.ErrAuthRejected)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, TokenFromRequest(r))
}
