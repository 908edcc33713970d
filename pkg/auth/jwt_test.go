package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/flakeid/pkg/snowflake"
)

var testKey = []byte("test-key")

type failingIDs struct{}

func (failingIDs) Generate() (snowflake.ID, error) {
	return 0, snowflake.ErrClockStalled
}

func newTestIssuer(t *testing.T) (*Issuer, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	return NewIssuer(testKey, node, time.Hour), node
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss, node := newTestIssuer(t)

	token, issued, err := iss.GenerateToken("alice")
	require.NoError(t, err)

	claims, err := iss.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, issued.ID, claims.ID)

	jti, err := TokenID(claims)
	require.NoError(t, err)
	assert.Equal(t, int64(7), node.Decompose(jti).Node)
	assert.WithinDuration(t, time.Now(), node.Decompose(jti).Time, time.Minute)
}

func TestIssuer_DistinctTokenIDs(t *testing.T) {
	iss, _ := newTestIssuer(t)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		_, claims, err := iss.GenerateToken("alice")
		require.NoError(t, err)
		_, dup := seen[claims.ID]
		require.False(t, dup, "jti %s issued twice", claims.ID)
		seen[claims.ID] = struct{}{}
	}
}

func TestIssuer_GeneratorFailure(t *testing.T) {
	iss := NewIssuer(testKey, failingIDs{}, time.Hour)
	_, _, err := iss.GenerateToken("alice")
	assert.ErrorIs(t, err, snowflake.ErrClockStalled)
}

func TestVerifier_Rejects(t *testing.T) {
	iss, _ := newTestIssuer(t)
	token, _, err := iss.GenerateToken("alice")
	require.NoError(t, err)

	_, err = NewVerifier([]byte("other-key")).Validate(token)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := iss.GenerateToken("alice")
	require.NoError(t, err)
	_, err = iss.Validate(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Validate(none)
	assert.Error(t, err)

	anon, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString(testKey)
	require.NoError(t, err)
	_, err = iss.Validate(anon)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	tok, err := BearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "q", tok)

	r.Header.Set("Authorization", "Bearer h")
	tok, err = BearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "h", tok)

	_, err = BearerToken(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestMiddleware(t *testing.T) {
	iss, _ := newTestIssuer(t)
	token, _, err := iss.GenerateToken("bob")
	require.NoError(t, err)

	var got *Claims
	h := iss.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "bob", got.UserID)

	for _, header := range []string{"", "Bearer nope"} {
		rec = httptest.NewRecorder()
		r = httptest.NewRequest(http.MethodGet, "/conversations", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
