package security

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceIdentity describes a field device authorized for one tenant.
type DeviceIdentity struct {
	TenantID string
	DeviceID string
	UserName string
}

type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`
	UserName string `json:"unique_name"`
	jwt.RegisteredClaims
}

// CreateTenantToken mints the bearer token a device presents to the sync
// endpoints. The tenant in the claims is what the server trusts.
func CreateTenantToken(identity *DeviceIdentity, base64Secret string, expiresInSeconds int64) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", err
	}

	claims := TenantClaims{
		TenantID: identity.TenantID,
		DeviceID: identity.DeviceID,
		UserName: identity.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fieldserve",
			Audience:  []string{"*.fieldserve.com"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expiresInSeconds) * time.Second)),
		},
	}

	// Use HS256 signing method (symmetric key)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(secretBytes)
}
