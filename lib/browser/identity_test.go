package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomDesktopIdentity(t *testing.T) {
	identity, err := RandomDesktopIdentity()
	require.NoError(t, err)
	require.NotEmpty(t, identity.UserAgent)
	require.Len(t, identity.SessionId, 12)
}

func TestFixedIdentity(t *testing.T) {
	policy := FixedIdentity("test-agent/1.0")

	a, err := policy()
	require.NoError(t, err)
	b, err := policy()
	require.NoError(t, err)

	require.Equal(t, "test-agent/1.0", a.UserAgent)
	require.Equal(t, "test-agent/1.0", b.UserAgent)
	// session ids still differ per acquisition
	require.NotEqual(t, a.SessionId, b.SessionId)
}
