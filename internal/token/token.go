// Package token issues and validates the JWTs that gatekeep pulse
// connections and the notifications API.
package token

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Scopes accepted in pulse tokens
const (
	ScopeConnect = "connect" // open a websocket connection
	ScopeNotify  = "notify"  // post to the notifications API
	ScopeStatus  = "status"  // read the connection status report
)

// Claims represents the claims required in a pulse JWT. Subject carries the
// user id that the connection will be attributed to.
type Claims struct {

	// Scopes controlling access; at least one of connect, notify, status
	Scopes []string `json:"scopes"`

	jwt.RegisteredClaims
}

// New returns Claims populated with the supplied information
func New(audience, userID string, scopes []string, iat, nbf, exp int64) Claims {

	return Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(iat, 0)),
			NotBefore: jwt.NewNumericDate(time.Unix(nbf, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0)),
			Audience:  []string{audience},
		},
	}
}

// HasRequiredClaims returns false if the Claims are missing any required elements
func HasRequiredClaims(c Claims) bool {

	if c.Subject == "" ||
		len(c.Scopes) == 0 ||
		len(c.RegisteredClaims.Audience) == 0 ||
		c.RegisteredClaims.ExpiresAt == nil ||
		(*c.RegisteredClaims.ExpiresAt).IsZero() {
		return false
	}
	return true
}

// HasScope returns true if the scope is present in the claims
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Sign returns the HMAC-signed string form of the claims
func Sign(c Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Validator checks credentials presented at connection time or in an
// Authorization header. It satisfies the authorisation check the relay and
// API expect; swap in another implementation to change auth policy.
type Validator struct {
	Audience string
	Secret   string
}

// Validate parses and checks a token string, returning the claims if the
// signature, validity window, audience and required claims all pass.
func (v Validator) Validate(tokenString string) (*Claims, error) {

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method was %v", token.Header["alg"])
		}
		return []byte(v.Secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("error parsing token: %w", err)
	}

	if !token.Valid { //checks iat, nbf, exp
		return nil, errors.New("token invalid")
	}

	if !claims.RegisteredClaims.VerifyAudience(v.Audience, true) {
		return nil, fmt.Errorf("aud %s does not match this host %s", claims.RegisteredClaims.Audience, v.Audience)
	}

	if !HasRequiredClaims(*claims) {
		return nil, errors.New("token missing required claims")
	}

	return claims, nil
}

// Authorize checks a credential for the connect scope and returns the user
// id it vouches for. This is the check applied to websocket handshakes.
func (v Validator) Authorize(credential string) (string, error) {

	claims, err := v.Validate(credential)

	if err != nil {
		return "", err
	}

	if !claims.HasScope(ScopeConnect) {
		return "", errors.New("token missing connect scope")
	}

	return claims.Subject, nil
}
