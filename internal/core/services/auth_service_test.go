package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Minute)

	token, err := auth.GenerateToken("ops", RoleOperator)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestAuthService_WrongSecret(t *testing.T) {
	token, err := NewAuthService("a", time.Minute).GenerateToken("x", RoleViewer)
	require.NoError(t, err)

	_, err = NewAuthService("b", time.Minute).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Expired(t *testing.T) {
	auth := NewAuthService("secret", -time.Minute)
	token, err := auth.GenerateToken("x", RoleViewer)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_Authorize(t *testing.T) {
	auth := NewAuthService("secret", time.Minute)

	assert.NoError(t, auth.Authorize(&Claims{Role: RoleOperator}, RoleViewer))
	assert.NoError(t, auth.Authorize(&Claims{Role: RoleViewer}, RoleViewer))
	assert.ErrorIs(t, auth.Authorize(&Claims{Role: RoleViewer}, RoleOperator), ErrForbidden)
	assert.ErrorIs(t, auth.Authorize(&Claims{Role: "guest"}, RoleViewer), ErrForbidden)
	assert.ErrorIs(t, auth.Authorize(nil, RoleViewer), ErrInvalidToken)
}
