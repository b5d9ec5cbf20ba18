package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	s := NewJWTService("secret", 1)
	token, err := s.Generate("alice", RoleOperator)
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewJWTService("one", 1).Generate("alice", RoleOperator)
	require.NoError(t, err)

	_, err = NewJWTService("two", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	s := NewJWTService("secret", 1)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := s.Generate("alice", RoleOperator)
	require.NoError(t, err)

	_, err = NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
