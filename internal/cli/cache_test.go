package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/stirrup/pkg/cache"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCache(t *testing.T, fps ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	logger := zerolog.Nop()
	m, err := cache.New(cache.Config{BaseDir: dir, Logger: &logger})
	require.NoError(t, err)

	for i, fp := range fps {
		state := &cache.State{
			Task:     "task " + fp,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			Turn:     i + 1,
		}
		require.NoError(t, m.SaveState(context.Background(), fp, state, cache.SaveOptions{
			Model:     "gpt-4o",
			ToolNames: []string{"finish"},
		}))
	}
	return dir
}

func TestCacheCommand_List(t *testing.T) {
	isolateHome(t)

	out, err := execute(t, "cache", "list", "--cache-dir", filepath.Join(t.TempDir(), "empty"))
	require.NoError(t, err)
	assert.Contains(t, out, "No cached sessions")

	dir := seedCache(t, "aaa", "bbb")
	out, err = execute(t, "cache", "list", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, "aaa")
	assert.Contains(t, out, "bbb")
	assert.Contains(t, out, "gpt-4o")
}

func TestCacheCommand_Inspect(t *testing.T) {
	isolateHome(t)
	dir := seedCache(t, "abc")

	out, err := execute(t, "cache", "inspect", "abc", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Turn: 1")
	assert.Contains(t, out, "Messages: 1")
	assert.Contains(t, out, "Has files: false")

	out, err = execute(t, "cache", "inspect", "abc", "--json", "--cache-dir", dir)
	require.NoError(t, err)
	var info cache.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "abc", info.Fingerprint)
	assert.Equal(t, []string{"finish"}, info.ToolNames)

	_, err = execute(t, "cache", "inspect", "missing", "--cache-dir", dir)
	assert.Error(t, err)
}

func TestCacheCommand_Clear(t *testing.T) {
	isolateHome(t)
	dir := seedCache(t, "one", "two", "three")

	_, err := execute(t, "cache", "clear", "--cache-dir", dir)
	assert.ErrorContains(t, err, "--all")

	out, err := execute(t, "cache", "clear", "one", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared one")

	logger := zerolog.Nop()
	m, err := cache.New(cache.Config{BaseDir: dir, Logger: &logger})
	require.NoError(t, err)
	assert.False(t, m.Exists("one"))
	assert.True(t, m.Exists("two"))

	_, err = execute(t, "cache", "clear", "--all", "--cache-dir", dir)
	require.NoError(t, err)
	fps, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestCacheCommand_Prune(t *testing.T) {
	isolateHome(t)
	dir := seedCache(t, "old", "older")

	out, err := execute(t, "cache", "prune", "--max-age", "1h", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 cached sessions")

	time.Sleep(10 * time.Millisecond)
	out, err = execute(t, "cache", "prune", "--max-age", "1ms", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 2 cached sessions")
}
