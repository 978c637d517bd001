package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() models.JWTClaims {
	return models.JWTClaims{
		UserID: "user-1",
		Role:   models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "classroom",
			Audience:  jwt.ClaimStrings{"sqlclassroom"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "classroom", Audience: []string{"sqlclassroom"}})

	claims, err := svc.ValidateToken(signToken(t, "secret", validClaims(), jwt.SigningMethodHS256))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "classroom"})

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "elsewhere"

	unknownRole := validClaims()
	unknownRole.Role = "SUPERADMIN"

	noUser := validClaims()
	noUser.UserID = ""

	cases := map[string]string{
		"wrong secret": signToken(t, "other", validClaims(), jwt.SigningMethodHS256),
		"wrong method": signToken(t, "secret", validClaims(), jwt.SigningMethodHS512),
		"expired":      signToken(t, "secret", expired, jwt.SigningMethodHS256),
		"issuer":       signToken(t, "secret", wrongIssuer, jwt.SigningMethodHS256),
		"role":         signToken(t, "secret", unknownRole, jwt.SigningMethodHS256),
		"no user":      signToken(t, "secret", noUser, jwt.SigningMethodHS256),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		_, err := svc.ValidateToken(token)
		require.ErrorIs(t, err, appErrors.ErrUnauthorized, name)
	}
}
