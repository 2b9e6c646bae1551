package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sconehq/scone/internal/config"
)

func writeHeadFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(contents), 0o600)
	require.NoError(t, err)
	return dir
}

func TestLoadParsesSoussAndGroupsWithImplicitAll(t *testing.T) {
	dir := writeHeadFile(t, `
sous:
  web1:
    host: 10.0.0.1
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
  web2:
    host: 10.0.0.2
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
group:
  web:
    - web1
    - web2
`)

	head, err := config.Load(dir)
	require.NoError(t, err)

	assert.Len(t, head.Sous, 2)
	assert.Equal(t, "10.0.0.1", head.Sous["web1"].Host)
	assert.ElementsMatch(t, []string{"web1", "web2"}, head.Groups["all"])
	assert.ElementsMatch(t, []string{"web1", "web2"}, head.Groups["web"])
}

func TestLoadRejectsExplicitAllGroup(t *testing.T) {
	dir := writeHeadFile(t, `
sous: {}
group:
  all:
    - web1
`)

	_, err := config.Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsSousMissingHost(t *testing.T) {
	dir := writeHeadFile(t, `
sous:
  web1:
    sous_command: /usr/local/bin/sous
`)

	_, err := config.Load(dir)
	assert.Error(t, err)
}

func TestLoadCapturesFreezerSecretServiceID(t *testing.T) {
	dir := writeHeadFile(t, `
freezer:
  restaurant_id: bakery-42
sous: {}
`)

	head, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bakery-42", head.SecretServiceID)
}

func TestSoussForHostspecResolvesDirectSousAndGroup(t *testing.T) {
	dir := writeHeadFile(t, `
sous:
  web1:
    host: 10.0.0.1
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
group:
  web:
    - web1
`)
	head, err := config.Load(dir)
	require.NoError(t, err)

	direct, err := head.SoussForHostspec("web1")
	require.NoError(t, err)
	assert.Equal(t, []string{"web1"}, direct)

	group, err := head.SoussForHostspec("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web1"}, group)

	_, err = head.SoussForHostspec("nope")
	assert.Error(t, err)
}

func TestLoadVariablesMergesAllGroupAndSousScopes(t *testing.T) {
	dir := writeHeadFile(t, `
sous:
  web1:
    host: 10.0.0.1
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
  web2:
    host: 10.0.0.2
    ssh_user: deploy
    sous_command: /usr/local/bin/sous
group:
  web:
    - web1
    - web2
`)
	head, err := config.Load(dir)
	require.NoError(t, err)

	writeVarFile(t, dir, "all", "base.vf.yaml", "region: eu-west\napp:\n  port: 8080\n")
	writeVarFile(t, dir, "web", "pool.vf.yaml", "app:\n  port: 9090\n")
	writeVarFile(t, dir, "web1", "host.v.yaml", "hostname: ${region}-web1\n")

	byS, err := head.LoadVariables()
	require.NoError(t, err)

	web1Port, err := byS["web1"].GetDotted("app.port")
	require.NoError(t, err)
	assert.Equal(t, 9090, web1Port)

	web2Port, err := byS["web2"].GetDotted("app.port")
	require.NoError(t, err)
	assert.Equal(t, 9090, web2Port)

	hostname, err := byS["web1"].GetDotted("hostname")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-web1", hostname)
}

func writeVarFile(t *testing.T, headDir, who, name, contents string) {
	t.Helper()
	dir := filepath.Join(headDir, "vars", who)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600))
}
