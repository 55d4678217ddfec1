package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "prefs.yaml")
	s := Open(path)
	assert.Equal(t, Prefs{}, s.Get())

	s.SetConsent(true)
	s.SetLastDirectory("/rec")
	s.SetLastMicrophone("mic-1")

	reopened := Open(path)
	assert.Equal(t, Prefs{Consent: true, LastDirectory: "/rec", LastMicrophone: "mic-1"}, reopened.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "last_directory: /rec")
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consent: [not a bool"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Equal(t, Prefs{}, Open(path).Get())
}

func TestUnwritableStoreKeepsValues(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := Open(filepath.Join(blocker, "prefs.yaml"))
	s.SetLastMicrophone("mic-2")
	assert.Equal(t, "mic-2", s.Get().LastMicrophone)
}
