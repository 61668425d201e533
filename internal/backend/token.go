package backend

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client needs from an access token. The signature is not
// checked here; the backend does that on every request.
type Claims struct {
	UserID    int64
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has passed at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims reads user id and expiry from an access token without verifying it.
func ParseClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	var out Claims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	for _, key := range []string{"user_id", "sub"} {
		if id, ok := claimInt(claims[key]); ok {
			out.UserID = id
			break
		}
	}
	return out, nil
}

func claimInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
