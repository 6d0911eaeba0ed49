package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Minute, Issuer: "dref-api"})

	token, err := svc.SignToken("user-1", models.RoleStaff, "user@example.org")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStaff, claims.Role)
	assert.Equal(t, "user@example.org", claims.Email)
}

func TestAuthServiceRejectsForeignTokens(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "dref-api"})

	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other", Issuer: "dref-api"})
	token, err := other.SignToken("user-1", models.RoleStaff, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	wrongIssuer := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "someone-else"})
	token, err = wrongIssuer.SignToken("user-1", models.RoleStaff, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceNormalisesRole(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	sign := func(claims *models.JWTClaims) string {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return signed
	}

	claims, err := svc.ValidateToken(sign(&models.JWTClaims{UserID: "u", Role: "superadmin"}))
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, claims.Role)

	claims, err = svc.ValidateToken(sign(&models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-only"}}))
	require.NoError(t, err)
	assert.Equal(t, "sub-only", claims.UserID)
	assert.Equal(t, models.RoleGuest, claims.Role)

	_, err = svc.ValidateToken(sign(&models.JWTClaims{UserID: "u", Role: "AUDITOR"}))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
