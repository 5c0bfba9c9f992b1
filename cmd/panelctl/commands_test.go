package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestThemeCommand(t *testing.T) {
	out, err := run(t, "theme", "--primary", "#D2691E")
	require.NoError(t, err)
	assert.Contains(t, out, "--color-primary: #D2691E;")
	assert.Contains(t, out, "--color-secondary-900:")

	out, err = run(t, "theme", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"primaryShades"`)
}

func TestRunJobRejectsUnknownJob(t *testing.T) {
	_, err := run(t, "run-job", "defragment")
	assert.Error(t, err)
}

func TestCreateAdminAgainstMemoryStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 8080
store:
  backend: memory
media:
  upload_dir: `+filepath.Join(dir, "uploads")+`
auth:
  secret: "0123456789abcdef0123456789abcdef"
log:
  level: error
`), 0o600))

	out, err := run(t, "--config", cfgPath, "create-admin", "--email", "Head@Univ.dz", "--password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin head@univ.dz")

	_, err = run(t, "--config", cfgPath, "create-admin", "--email", "x@univ.dz")
	assert.Error(t, err)
}
