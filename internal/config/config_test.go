package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nsocket_path: /tmp/oidc-agent.sock\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, "/tmp/oidc-agent.sock", c.SocketPath)
	require.Equal(t, "text", c.LogFormat) // default preserved
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestIssuerAllowed(t *testing.T) {
	c := Config{AllowedIssuers: []string{"https://idp.example.com/"}}
	require.True(t, c.IssuerAllowed("https://idp.example.com/"))
	require.False(t, c.IssuerAllowed("https://evil.example.com/"))

	unrestricted := Config{}
	require.True(t, unrestricted.IssuerAllowed("https://anything.example.com/"))
}
