package keycloak

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseClaims decodes the claims of an access token without verifying its
// signature. The result is for display only and must not be trusted.
func ParseClaims(accessToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}
