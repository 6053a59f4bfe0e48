package utils

import (
	"testing"

	"github.com/rick1290/estuary-messaging/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	config.AppConfig = &config.Config{JWTSecret: "test_secret_key_12345"}

	token, err := GenerateToken("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "estuary-messaging", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	config.AppConfig = &config.Config{JWTSecret: "secret-one"}
	token, err := GenerateToken("user-123")
	require.NoError(t, err)

	config.AppConfig = &config.Config{JWTSecret: "secret-two"}
	_, err = ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	config.AppConfig = &config.Config{JWTSecret: "test_secret_key_12345"}
	_, err := ValidateToken("not-a-token")
	assert.Error(t, err)
}
