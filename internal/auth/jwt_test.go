package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("op-42", "operator", "miraattend", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, "secret", "miraattend")
	require.NoError(t, err)
	assert.Equal(t, "op-42", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("op-42", "operator", "miraattend", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "miraattend")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("op-42", "operator", "someone-else", "secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "miraattend")
	assert.EqualError(t, err, "issuer mismatch")
}
