package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "PHONE", cfg.FormFactor)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestMergeConfigs(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{
		APIKey:         "key",
		HTTPPort:       8080,
		AllowedOrigins: []string{"http://localhost:5173"},
		Threshold:      25,
		Verbose:        true,
	}

	merged := MergeConfigs(base, overlay)
	assert.Equal(t, "key", merged.APIKey)
	assert.Equal(t, 8080, merged.HTTPPort)
	assert.Equal(t, []string{"http://localhost:5173"}, merged.AllowedOrigins)
	assert.Equal(t, 25.0, merged.Threshold)
	assert.True(t, merged.Verbose)
	assert.Equal(t, "127.0.0.1", merged.HTTPHost, "unset overlay fields keep the base")
	assert.Equal(t, 3000, base.HTTPPort, "base is not modified")

	assert.Same(t, base, MergeConfigs(base, nil))
	assert.NotNil(t, MergeConfigs(nil, overlay))
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"comment": "test", "http_port": 9000, "locale": "fr"}`), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "fr", cfg.Locale)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadConfigFromFile(path)
	assert.Error(t, err)

	_, err = LoadConfigFromFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFindProjectConfigStopsAtGitRoot(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	sub := filepath.Join(repo, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0o755))

	// A config above the repo root is never picked up.
	require.NoError(t, os.WriteFile(filepath.Join(root, projectConfigName), []byte(`{}`), 0o644))
	_, err := findProjectConfigFrom(sub)
	assert.ErrorIs(t, err, os.ErrNotExist)

	want := filepath.Join(repo, "a", projectConfigName)
	require.NoError(t, os.WriteFile(want, []byte(`{}`), 0o644))
	got, err := findProjectConfigFrom(sub)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadEffectiveConfigLayers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("PORT", "")

	globalDir := filepath.Join(home, ".config", "cruxview")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config.json"),
		[]byte(`{"api_key": "global-key", "http_port": 4000, "locale": "sv"}`), 0o644))

	explicit := filepath.Join(t.TempDir(), "explicit.json")
	require.NoError(t, os.WriteFile(explicit, []byte(`{"http_port": 5000}`), 0o644))

	cfg, err := LoadEffectiveConfig(explicit)
	require.NoError(t, err)
	assert.Equal(t, "global-key", cfg.APIKey)
	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, "sv", cfg.Locale)

	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("PORT", "6000")
	cfg, err = LoadEffectiveConfig(explicit)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 6000, cfg.HTTPPort)

	t.Setenv("PORT", "http")
	_, err = LoadEffectiveConfig(explicit)
	assert.Error(t, err)
}

func TestConfigTimeout(t *testing.T) {
	d, err := (&Config{RequestTimeout: "2s"}).Timeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = (&Config{}).Timeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = (&Config{RequestTimeout: "soon"}).Timeout()
	assert.Error(t, err)
	_, err = (&Config{RequestTimeout: "-1s"}).Timeout()
	assert.Error(t, err)

	cc, err := (&Config{APIKey: "k", RequestTimeout: "3s", FormFactor: "DESKTOP"}).CruxConfig()
	require.NoError(t, err)
	assert.Equal(t, "k", cc.APIKey)
	assert.Equal(t, 3*time.Second, cc.Timeout)
	assert.Equal(t, "DESKTOP", cc.FormFactor)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(none)", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd…yz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
