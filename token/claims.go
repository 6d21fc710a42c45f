package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/tractionboard/traction-go/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims holds the informational payload decoded from an access token.
// The signature is never verified client-side: these values drive proactive
// refresh timing and UI display only, never an authorization decision.
type Claims struct {
	Subject      string              // Users unique ID
	TenantID     string              // Tenant the token was issued for
	Capabilities []users.Capability  // Capabilities embedded at issue time
	IssuedAt     time.Time           // Issued at time
	ExpiresAt    time.Time           // Expiration
}

// Decode extracts the claims from a raw access token without verifying the
// signature.
func Decode(rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.New("[token.Decode] empty token")
	}

	unverifiedToken, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "[token.Decode] parse")
	}

	claims, ok := unverifiedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("[token.Decode] error extracting claims")
	}

	sub, _ := claims["sub"].(string)
	tenant, _ := claims["tenant"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	var capabilities []users.Capability
	if claimCaps, ok := claims["capabilities"].([]interface{}); ok {
		for _, v := range claimCaps {
			if s, ok := v.(string); ok {
				capabilities = append(capabilities, users.Capability(s))
			}
		}
	}

	return &Claims{
		Subject:      sub,
		TenantID:     tenant,
		Capabilities: capabilities,
		IssuedAt:     time.Unix(int64(iat), 0),
		ExpiresAt:    time.Unix(int64(exp), 0),
	}, nil
}

// ShouldRefresh reports whether a token is close enough to expiry to renew
// proactively: decodable, not yet expired, and expiring within threshold.
//
// An undecodable token returns true. Skipping renewal on a garbled token
// would silently run the session into the expiry wall, so the policy here
// fails open toward refreshing; the exchange itself decides whether the
// session is still viable. An already-expired token returns false: that
// case belongs to the reactive retry path, not proactive renewal.
func ShouldRefresh(rawToken string, threshold time.Duration) bool {
	claims, err := Decode(rawToken)
	if err != nil {
		return true
	}

	remaining := claims.ExpiresAt.Sub(NowTimeFunc())
	return remaining > 0 && remaining < threshold
}
