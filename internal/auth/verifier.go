// Package auth resolves the optional owner principal of a request from a
// bearer token.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoVerifier = errors.New("no token verifier configured")

// Principal is the owner a run is attributed to
type Principal struct {
	ID    string
	Email string
	Name  string
}

// Verifier turns a bearer token into a Principal
type Verifier interface {
	Verify(tokenString string) (*Principal, error)
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(tokenString string) (*Principal, error) {
	if len(c) == 0 {
		return nil, ErrNoVerifier
	}
	var errs []error
	for _, v := range c {
		p, err := v.Verify(tokenString)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// HMACClaims are the claims of locally signed tokens
type HMACClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HMACClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*HMACClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &Principal{ID: claims.UserID, Email: claims.Email}, nil
}

// Sign issues an HS256 token, used by tests and local tooling.
func (v *HMACVerifier) Sign(userID, email string) (string, error) {
	claims := HMACClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "recapbook-api",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
