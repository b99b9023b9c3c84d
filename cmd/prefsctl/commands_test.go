package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
)

// resetFlags restores every flag variable; cobra keeps them between Execute calls.
func resetFlags() {
	flagConfig, flagBackend, flagDataDir, flagAddr, flagPassword, flagFile = "", "", "", "", "", ""
	dumpRaw = false
	rotatePassword, rotateSalt, rotatePlain = "", "", false
	migrateToBolt, migrateToDir = "", ""
	snapshotPassphrase = ""
}

// prefsctl runs the CLI against a JSON data dir and returns its output.
func prefsctl(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Setenv("PREFS_CONFIG", "")
	t.Setenv("PREFS_STORE_ADDR", "")
	t.Setenv("PREFS_PASSWORD", "")
	t.Setenv("PREFS_DATA_DIR", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	base := []string{
		"--config", filepath.Join(dataDir, "missing.yaml"),
		"--backend", "json",
		"--data-dir", dataDir,
	}
	rootCmd.SetArgs(append(base, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSetGetCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "--password", "pass", "set", "theme", "dark")
	require.NoError(t, err)

	out, err := prefsctl(t, dir, "--password", "pass", "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	out, err = prefsctl(t, dir, "--password", "pass", "has", "theme")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	// The wrong password does not decode the value.
	out, err = prefsctl(t, dir, "--password", "other", "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "\n", out)

	// Nothing readable lands on disk.
	data, err := os.ReadFile(filepath.Join(dir, "default.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "theme")
	assert.NotContains(t, string(data), "dark")

	_, err = prefsctl(t, dir, "--password", "pass", "rm", "theme")
	require.NoError(t, err)
	out, err = prefsctl(t, dir, "--password", "pass", "has", "theme")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestDumpAndFilesCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "set", "a", "1")
	require.NoError(t, err)
	_, err = prefsctl(t, dir, "-f", "ui", "set", "b", "2")
	require.NoError(t, err)

	out, err := prefsctl(t, dir, "-f", "ui", "dump")
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, map[string]string{"b": "2"}, decoded)

	out, err = prefsctl(t, dir, "files")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "ui"}, strings.Fields(out))

	_, err = prefsctl(t, dir, "-f", "ui", "clear")
	require.NoError(t, err)
	out, err = prefsctl(t, dir, "-f", "ui", "dump", "--raw")
	require.NoError(t, err)
	assert.JSONEq(t, "{}", out)
}

func TestClearOnlyTouchesNamedFile(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "set", "a", "1")
	require.NoError(t, err)
	_, err = prefsctl(t, dir, "-f", "ui", "set", "b", "2")
	require.NoError(t, err)

	_, err = prefsctl(t, dir, "-f", "ui", "clear")
	require.NoError(t, err)

	out, err := prefsctl(t, dir, "get", "a")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out, "default file must survive")

	out, err = prefsctl(t, dir, "-f", "ui", "get", "b")
	require.NoError(t, err)
	assert.Equal(t, "\n", out)
}

func TestRotateCommandAcrossFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "--password", "old", "set", "a", "1")
	require.NoError(t, err)
	_, err = prefsctl(t, dir, "--password", "old", "-f", "ui", "set", "b", "2")
	require.NoError(t, err)

	_, err = prefsctl(t, dir, "--password", "old", "rotate", "--new-password", "new")
	require.NoError(t, err)

	out, err := prefsctl(t, dir, "--password", "new", "get", "a")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
	out, err = prefsctl(t, dir, "--password", "new", "-f", "ui", "get", "b")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = prefsctl(t, dir, "--password", "new", "-f", "ui", "dump")
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, map[string]string{"b": "2"}, decoded)
}

func TestRotateCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "--password", "old", "set", "k", "v")
	require.NoError(t, err)

	out, err := prefsctl(t, dir, "--password", "old", "rotate", "--new-password", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Rotation complete")

	out, err = prefsctl(t, dir, "--password", "new", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "v\n", out)

	_, err = prefsctl(t, dir, "--password", "new", "rotate", "--plain")
	require.NoError(t, err)
	out, err = prefsctl(t, dir, "dump", "--raw")
	require.NoError(t, err)
	var raw map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.Equal(t, "v", raw["k"])

	_, err = prefsctl(t, dir, "rotate")
	assert.Error(t, err)
	_, err = prefsctl(t, dir, "rotate", "--plain", "--new-password", "x")
	assert.Error(t, err)
}

func TestMigrateExportImportCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "--password", "pass", "set", "k", "v")
	require.NoError(t, err)

	// JSON -> bolt keeps the obfuscated entries readable.
	boltPath := filepath.Join(t.TempDir(), "prefs.db")
	out, err := prefsctl(t, dir, "migrate", "--to-bolt", boltPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated 1 files")

	resetFlags()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--config", filepath.Join(dir, "missing.yaml"), "--backend", "bolt", "--data-dir", filepath.Dir(boltPath), "--password", "pass", "get", "k"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "v\n", buf.String())

	// Export, wipe, import.
	snapshot := filepath.Join(t.TempDir(), "snap.cbor")
	_, err = prefsctl(t, dir, "export", snapshot)
	require.NoError(t, err)

	_, err = prefsctl(t, dir, "clear")
	require.NoError(t, err)
	out, err = prefsctl(t, dir, "--password", "pass", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "\n", out)

	out, err = prefsctl(t, dir, "import", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored default")

	out, err = prefsctl(t, dir, "--password", "pass", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "v\n", out)

	// Migrating to another JSON directory.
	other := t.TempDir()
	_, err = prefsctl(t, dir, "migrate", "--to-dir", other)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(other, "default.json"))

	_, err = prefsctl(t, dir, "migrate")
	assert.Error(t, err)
}

func TestEncryptedSnapshot(t *testing.T) {
	dir := t.TempDir()

	_, err := prefsctl(t, dir, "set", "k", "secret-value")
	require.NoError(t, err)

	snapshot := filepath.Join(t.TempDir(), "snap.sealed")
	_, err = prefsctl(t, dir, "export", snapshot, "--passphrase", "hunter2")
	require.NoError(t, err)

	data, err := os.ReadFile(snapshot)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-value")

	_, err = prefsctl(t, dir, "clear")
	require.NoError(t, err)

	_, err = prefsctl(t, dir, "import", snapshot)
	assert.ErrorContains(t, err, "--passphrase is required")
	_, err = prefsctl(t, dir, "import", snapshot, "--passphrase", "wrong")
	assert.ErrorIs(t, err, vault.ErrSealed)

	out, err := prefsctl(t, dir, "import", snapshot, "--passphrase", "hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored default")

	out, err = prefsctl(t, dir, "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "secret-value\n", out)
}

func TestSharedModeFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "prefs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`backend: json
stores:
  - name: shared
    mode: shared
`), 0644))

	resetFlags()
	t.Setenv("PREFS_DATA_DIR", dir)
	rootCmd.SetArgs([]string{"--config", cfgPath, "-f", "shared", "set", "k", "v"})
	require.NoError(t, rootCmd.Execute())

	info, err := os.Stat(filepath.Join(dir, "shared.json"))
	require.NoError(t, err)
	assert.Equal(t, engine.ModeShared.Perm(), info.Mode().Perm())
}
