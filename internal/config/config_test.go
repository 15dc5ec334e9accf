package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jelmore.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 8052, cfg.Server.Port)
	assert.Equal(t, "echo", cfg.Providers.Default)
	assert.Equal(t, 100, cfg.Sessions.MaxConcurrent)
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9000},
		"sessions": {"max_concurrent": 5},
		"providers": {"default": "claude-cli"},
		"data_dir": "/tmp/jelmore-test"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, "claude-cli", cfg.Providers.Default)
	assert.Equal(t, filepath.Join("/tmp/jelmore-test", "jelmore.db"), cfg.Storage.DatabasePath)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `{"serverr": {"port": 9000}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsWrongType(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": "nine thousand"}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsPortOutOfRange(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": 70000}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvertedTimeouts(t *testing.T) {
	path := writeConfig(t, `{"sessions": {"warn_after_minutes": 60, "fail_after_minutes": 10}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warn_after_minutes")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `{"logging": {"level": "verbose"}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": 9000}}`)
	loader := NewLoader(path)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 9001}}`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9001, cfg.Server.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": 9000}}`)
	loader := NewLoader(path)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(loader, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"bogus": true}`), 0644))

	select {
	case <-reloaded:
		t.Fatal("invalid config must not trigger reload")
	case <-time.After(time.Second):
	}
}
