package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// subjectClaims are checked in order for the user id carried by a token.
var subjectClaims = []string{"sub", "userId", "id", "_id"}

// claimsOf decodes the token payload without verifying its signature; the
// client only reads hints from it, the server remains the authority.
func claimsOf(token string) (jwt.MapClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func tokenSubject(token string) string {
	claims, ok := claimsOf(token)
	if !ok {
		return ""
	}
	for _, k := range subjectClaims {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func tokenExpiry(token string) (time.Time, bool) {
	claims, ok := claimsOf(token)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
