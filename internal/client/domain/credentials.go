package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the access/refresh token pair for the signed-in account.
// The access token is attached to every outbound call; the refresh token is
// spent once per refresh cycle to mint a new pair.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c Credentials) IsZero() bool     { return c.AccessToken == "" && c.RefreshToken == "" }
func (c Credentials) CanRefresh() bool { return c.RefreshToken != "" }

// AccessExpiry reads the exp claim of a JWT access token. The signature is not
// checked: the client only uses this to avoid sending a token it already
// knows is stale. Opaque tokens and tokens without exp report false.
func (c Credentials) AccessExpiry() (time.Time, bool) {
	if c.AccessToken == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the access token has a known expiry that falls
// before now+skew.
func (c Credentials) Expired(now time.Time, skew time.Duration) bool {
	exp, ok := c.AccessExpiry()
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
