package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPauseAuthenticatorCheck(t *testing.T) {
	a, err := NewPauseAuthenticator("s3cret")
	require.NoError(t, err)
	require.True(t, a.Configured())
	require.NoError(t, a.Check("s3cret"))
	require.ErrorIs(t, a.Check("wrong"), ErrWrongPassword)
}

func TestPauseAuthenticatorNotConfigured(t *testing.T) {
	a, err := NewPauseAuthenticator("")
	require.NoError(t, err)
	require.False(t, a.Configured())
	require.ErrorIs(t, a.Check("anything"), ErrNotConfigured)
}
