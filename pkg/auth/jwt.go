package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/flakeid/pkg/snowflake"
)

var ErrNoToken = errors.New("no token provided")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// IDSource hands out token ids. *snowflake.Node satisfies it.
type IDSource interface {
	Generate() (snowflake.ID, error)
}

// Verifier checks HS256 tokens signed with a shared key. Services that only
// accept tokens (the gateway) need nothing more.
type Verifier struct {
	key []byte
}

func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key}
}

// Validate parses and validates a token string.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

// Issuer signs tokens. Every token carries a jti taken from the ID source, so
// a token can be traced to the instance and millisecond that issued it.
type Issuer struct {
	*Verifier
	ids IDSource
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(key []byte, ids IDSource, ttl time.Duration) *Issuer {
	return &Issuer{Verifier: NewVerifier(key), ids: ids, ttl: ttl, now: time.Now}
}

// GenerateToken creates a new token for userID.
func (i *Issuer) GenerateToken(userID string) (string, *Claims, error) {
	jti, err := i.ids.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("token id: %w", err)
	}
	now := i.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.Base62(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// TokenID decodes the jti of claims back into the snowflake ID it was built from.
func TokenID(claims *Claims) (snowflake.ID, error) {
	return snowflake.ParseBase62(claims.ID)
}

// BearerToken reads the token from the Authorization header, falling back to
// the "token" query parameter that browser websocket clients use.
func BearerToken(r *http.Request) (string, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return "", ErrNoToken
	}
	return tokenString, nil
}

// Middleware rejects requests without a valid token and stores the claims in
// the request context under UserKey.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := BearerToken(r)
		if err != nil {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		claims, err := v.Validate(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	return claims, ok
}
