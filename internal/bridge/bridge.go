package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/capture"
)

// Bridge is the device capability surface a session depends on. Empty
// strings stand for "no source" and "dialog cancelled".
type Bridge interface {
	DefaultDesktopSourceID(ctx context.Context) (string, error)
	ShowSaveDialog(ctx context.Context, defaultName string) (string, error)
	SelectDirectory(ctx context.Context) (string, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Dialogs asks the user for paths.
type Dialogs interface {
	SaveFile(ctx context.Context, defaultName string) (string, error)
	SelectDirectory(ctx context.Context) (string, error)
}

// Local implements Bridge on the local machine.
type Local struct {
	sources capture.SourceLocator
	dialogs Dialogs
}

func NewLocal(sources capture.SourceLocator, dialogs Dialogs) *Local {
	if dialogs == nil {
		dialogs = None{}
	}
	return &Local{sources: sources, dialogs: dialogs}
}

func (l *Local) DefaultDesktopSourceID(ctx context.Context) (string, error) {
	if l.sources == nil {
		return "", nil
	}
	return l.sources.DefaultDesktopSourceID(ctx)
}

func (l *Local) ShowSaveDialog(ctx context.Context, defaultName string) (string, error) {
	path, err := l.dialogs.SaveFile(ctx, defaultName)
	if err != nil || path == "" {
		return "", err
	}
	return filepath.Abs(path)
}

func (l *Local) SelectDirectory(ctx context.Context) (string, error) {
	dir, err := l.dialogs.SelectDirectory(ctx)
	if err != nil || dir == "" {
		return "", err
	}
	return filepath.Abs(dir)
}

// WriteFile writes data to path atomically, creating parent directories.
func (l *Local) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		return apperr.Wrap(err, apperr.CodeWriteFailed, fmt.Sprintf("Could not save recording: %v", err)).
			WithDetail("path", path)
	}
	slog.Info("recording written", "path", path, "bytes", len(data))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
