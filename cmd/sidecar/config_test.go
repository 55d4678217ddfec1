package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeConfig(t, `
backend_url = "http://backend:9000"
timeslice = "250ms"
speaker_policy = "alternate"
preferred_codecs = ["audio/ogg;codecs=opus"]
`)
	t.Setenv("SIDECAR_BACKEND_URL", "http://env:1234")
	t.Setenv("SIDECAR_UPLOAD_RETRIES", "5")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env:1234", cfg.BackendURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeslice)
	assert.Equal(t, []string{"audio/ogg;codecs=opus"}, cfg.PreferredCodecs)
	assert.Equal(t, 5, cfg.UploadRetries)
	assert.Equal(t, ":8766", cfg.ListenAddr)
	assert.Equal(t, processing.PolicyAlternate, cfg.labeler().Policy)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err, "explicit path must exist")

	cfg, err := loadConfig("")
	require.NoError(t, err, "default path may be absent")
	assert.Equal(t, defaultConfig().BackendURL, cfg.BackendURL)
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `speaker_policy = "random"`)
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in, want string
	}{
		{"~/rec", filepath.Join(home, "rec")},
		{"/abs/rec", "/abs/rec"},
		{"", ""},
		{"~user/rec", "~user/rec"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandTilde(tt.in), tt.in)
	}
}
