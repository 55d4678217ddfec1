package bridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource string

func (s staticSource) DefaultDesktopSourceID(context.Context) (string, error) { return string(s), nil }

func TestWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "meeting.webm")
	l := NewLocal(nil, nil)

	require.NoError(t, l.WriteFile(context.Background(), path, []byte("audio")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDesktopSourceAndNoneDialogs(t *testing.T) {
	l := NewLocal(staticSource("sink.monitor"), nil)
	id, err := l.DefaultDesktopSourceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sink.monitor", id)

	path, err := l.ShowSaveDialog(context.Background(), "x.webm")
	require.NoError(t, err)
	assert.Empty(t, path)

	id, err = NewLocal(nil, nil).DefaultDesktopSourceID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestTerminalDialogs(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "accept default", input: "\n", want: "Team_Sync.webm"},
		{name: "cancel", input: "-\n", want: ""},
		{name: "eof cancels", input: "", want: ""},
		{name: "explicit file", input: "/tmp/out.webm\n", want: "/tmp/out.webm"},
		{name: "directory answer", input: dir + "\n", want: filepath.Join(dir, "Team_Sync.webm")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			term := &Terminal{In: strings.NewReader(tt.input), Out: &out}
			got, err := term.SaveFile(context.Background(), "Team_Sync.webm")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Save recording as")
		})
	}
}

func TestNewDialogsModes(t *testing.T) {
	d, err := NewDialogs("none", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, None{}, d)

	d, err = NewDialogs("terminal", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.IsType(t, &Terminal{}, d)

	_, err = NewDialogs("kde", nil, nil)
	assert.Error(t, err)
}
