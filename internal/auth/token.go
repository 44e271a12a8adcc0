package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}
	token, ok := bearer(authHeader)
	if !ok {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return token, nil
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

type tokenClaims struct {
	Roles       []string `json:"roles,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*Claims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(rawToken, &tc, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if tc.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	rc := rawClaims{Sub: tc.Subject, Roles: tc.Roles}
	rc.RealmAccess.Roles = tc.RealmAccess.Roles
	return rc.claims(), nil
}

// Issue signs a token for subject. Used by tooling and tests.
func (v *HMACVerifier) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}
