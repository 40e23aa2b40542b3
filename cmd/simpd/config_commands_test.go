package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitShowValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simpd.toml")

	out, err := runCommand(t, "config", "init", "--path", path)
	require.NoError(t, err)
	require.Contains(t, out, path)

	// A second init must not clobber the file.
	_, err = runCommand(t, "config", "init", "--path", path)
	require.Error(t, err)

	out, err = runCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "peer_port = 5000")
	require.Contains(t, out, "handshake")

	out, err = runCommand(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	require.Contains(t, out, "is valid")
}

func TestConfigValidateMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	_, err := runCommand(t, "--config", path, "config", "validate")
	require.Error(t, err)
}
