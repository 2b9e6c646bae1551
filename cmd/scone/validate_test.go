package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sconehq/scone/internal/config"
)

func writeTestHead(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(`
sous:
  web1:
    host: 10.0.0.1
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
`), 0o600)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "menu"), 0o700))
	err = os.WriteFile(filepath.Join(dir, "menu", "web1.yaml"), []byte(`
noop:
  anchor:
    provides:
      marker: done
`), 0o600)
	require.NoError(t, err)

	return dir
}

func TestRunValidateReportsRecipesWithoutDialingAnySous(t *testing.T) {
	dir := writeTestHead(t)

	err := runValidate(dir, "menu")
	require.NoError(t, err)
}

func TestRunValidateFailsOnMissingHead(t *testing.T) {
	dir := t.TempDir()

	err := runValidate(dir, "menu")
	require.Error(t, err)
}
