package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecrets(t *testing.T, path string, access, refresh []string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("access:\n")
	for _, s := range access {
		b.WriteString("  - " + s + "\n")
	}
	b.WriteString("refresh:\n")
	for _, s := range refresh {
		b.WriteString("  - " + s + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
}

func TestLoadSecretsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")

	writeSecrets(t, path, []string{accessSecret}, []string{refreshSecret})
	s, err := LoadSecretsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{accessSecret}, s.Access)
	assert.Equal(t, []string{refreshSecret}, s.Refresh)

	writeSecrets(t, path, []string{accessSecret}, []string{accessSecret})
	_, err = LoadSecretsFile(path)
	assert.ErrorContains(t, err, "also an access secret")

	require.NoError(t, os.WriteFile(path, []byte("access: [unterminated"), 0o600))
	_, err = LoadSecretsFile(path)
	assert.ErrorContains(t, err, "failed to parse")

	_, err = LoadSecretsFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read")
}

func TestLoadConfig_SecretsFileOverridesEnv(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	fileAccess := strings.Repeat("f", 48)
	writeSecrets(t, path, []string{fileAccess, accessSecret}, []string{refreshSecret})
	t.Setenv("DORMSHARE_SECRETS_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{fileAccess, accessSecret}, cfg.Auth.AccessSecrets)
}

func TestWatchSecrets_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")
	writeSecrets(t, path, []string{accessSecret}, []string{refreshSecret})

	changes := make(chan *Secrets, 4)
	w, err := WatchSecrets(path, func(s *Secrets) { changes <- s }, nil)
	require.NoError(t, err)
	defer w.Close()

	// Invalid content is ignored.
	writeSecrets(t, path, []string{"short"}, []string{refreshSecret})
	select {
	case s := <-changes:
		t.Fatalf("invalid secrets must not be applied: %v", len(s.Access))
	case <-time.After(4 * DefaultReloadDelay):
	}

	rotated := strings.Repeat("n", 40)
	writeSecrets(t, path, []string{rotated, accessSecret}, []string{refreshSecret})

	select {
	case s := <-changes:
		assert.Equal(t, []string{rotated, accessSecret}, s.Access)
	case <-time.After(5 * time.Second):
		t.Fatal("secrets were not reloaded")
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
