package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a self-contained config (mock embedder,
// sqlite index, temp data dir) and points the global --config at it.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "umem.json")

	cfg := map[string]interface{}{
		"data_dir":  dir,
		"logging":   map[string]interface{}{"level": "error", "file": filepath.Join(dir, "umem.log")},
		"embedding": map[string]interface{}{"provider": "mock"},
		"index":     map[string]interface{}{"backend": "sqlite", "dimension": 8},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "umem", root.Use)
	assert.Equal(t, version, GetVersion())

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "add", "query", "sweep", "configure"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestConfigureWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umem.json")

	out, err := runCommand(t, "--config", path, "configure")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunking")
}

func TestConfigureShow(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCommand(t, "--config", path, "configure", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "sqlite"`)
}

func TestAddAndQuery(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runCommand(t, "--config", path, "add", "--tenant", "tenant-a",
		"The capital of France is Paris.")
	require.NoError(t, err)

	out, err := runCommand(t, "--config", path, "query", "--tenant", "tenant-a",
		"The capital of France is Paris.")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris")
	assert.Contains(t, out, "[[memory ")

	out, err = runCommand(t, "--config", path, "query", "--tenant", "tenant-b",
		"The capital of France is Paris.")
	require.NoError(t, err)
	assert.Contains(t, out, "no matching memories")
}

func TestSweepCommand(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCommand(t, "--config", path, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "sweep completed")
}

func TestAddRequiresInput(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runCommand(t, "--config", path, "add", "--tenant", "tenant-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provide memory text")
}
