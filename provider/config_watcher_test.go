package provider_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/provider"
)

func writeCustomConfig(t *testing.T, path string, cfg provider.CustomConfig) {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestConfigWatcherRemovesByDeclaredNameNotFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "some-file.json")
	writeCustomConfig(t, path, provider.CustomConfig{
		Name:   "my-anthropic",
		Engine: provider.EngineAnthropic,
		Models: []provider.ModelSpec{{Name: "claude-x", ContextLimit: 200000}},
	})

	reg := provider.NewRegistry()
	cw, err := provider.WatchConfigDir(dir, reg)
	require.NoError(t, err)
	defer cw.Close()

	require.Eventually(t, func() bool {
		return contains(reg.CustomConfigNames(), "my-anthropic")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return !contains(reg.CustomConfigNames(), "my-anthropic")
	}, 2*time.Second, 10*time.Millisecond, "config declared under a name differing from the file's basename must still be evicted on removal")
}

func TestConfigWatcherReloadPicksUpRenamedConfigName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provider.json")
	writeCustomConfig(t, path, provider.CustomConfig{
		Name:   "first-name",
		Engine: provider.EngineOpenAI,
		Models: []provider.ModelSpec{{Name: "m", ContextLimit: 1024}},
	})

	reg := provider.NewRegistry()
	cw, err := provider.WatchConfigDir(dir, reg)
	require.NoError(t, err)
	defer cw.Close()

	require.Eventually(t, func() bool {
		return contains(reg.CustomConfigNames(), "first-name")
	}, 2*time.Second, 10*time.Millisecond)

	writeCustomConfig(t, path, provider.CustomConfig{
		Name:   "second-name",
		Engine: provider.EngineOpenAI,
		Models: []provider.ModelSpec{{Name: "m", ContextLimit: 1024}},
	})

	require.Eventually(t, func() bool {
		return contains(reg.CustomConfigNames(), "second-name")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return !contains(reg.CustomConfigNames(), "second-name")
	}, 2*time.Second, 10*time.Millisecond, "removal must evict by the file's most recently loaded name")
	assert.NotContains(t, reg.CustomConfigNames(), "first-name")
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
