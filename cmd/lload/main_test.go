package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/admin"
)

const testConfig = `
listeners:
  - address: "127.0.0.1:1389"
backends:
  - name: ldap1
    address: 127.0.0.1:1
    connections: 1
admin:
  enabled: true
  address: "127.0.0.1:8389"
  jwtSecret: 0123456789abcdef0123
  issuer: lload-test
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "lload version "+version)
	assert.Contains(t, out, "Go version:")

	code, out, _ = runCLI("version", "--short")
	assert.Equal(t, 0, code)
	assert.Equal(t, version+"\n", out)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	code, out, _ := runCLI("check", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "ldap1")
}

func TestCheckCommandInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"no backends":  "listeners:\n  - address: \"127.0.0.1:1389\"\nbackends: []\n",
		"short secret": strings.Replace(testConfig, "0123456789abcdef0123", "short", 1),
		"bad yaml":     "listeners: [",
	} {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := runCLI("check", "--config", writeConfig(t, content))
			assert.Equal(t, 1, code)
			assert.NotEmpty(t, stderr)
		})
	}

	code, _, stderr := runCLI("check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "missing.yaml")
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	code, out, _ := runCLI("token", "--config", path, "--subject", "ops", "--ttl", "5m")
	require.Equal(t, 0, code)

	auth := admin.NewAuthenticator("0123456789abcdef0123", "lload-test", time.Hour)
	claims, err := auth.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenCommandErrors(t *testing.T) {
	path := writeConfig(t, testConfig)
	code, _, stderr := runCLI("token", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--subject is required")

	noAdmin := writeConfig(t, "listeners:\n  - address: \"127.0.0.1:1389\"\nbackends:\n  - name: a\n    address: 127.0.0.1:1\n")
	code, _, stderr = runCLI("token", "--config", noAdmin, "--subject", "ops")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "jwtSecret")
}
