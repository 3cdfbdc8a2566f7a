package lookingglass

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeClaims returns the payload of a JWT without verifying it, for display
func DecodeClaims(tokenString string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// Fingerprint shortens a secret to something safe to show in the feed
func Fingerprint(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
