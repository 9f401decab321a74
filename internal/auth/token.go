// Package auth verifies the HMAC-signed bearer tokens used when the
// service runs without an API gateway in front of it.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer identifies tokens minted for this service. Tokens from any
// other issuer are rejected even when the signature checks out.
const Issuer = "cogniscribe-api"

// ErrMissingUserID rejects structurally valid tokens that carry no
// user identity; every job needs an owner.
var ErrMissingUserID = errors.New("token has no user id")

// Claims carried by API tokens.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateToken checks the HS256 signature, the issuer, and the
// mandatory expiry, and requires a user id claim.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}
