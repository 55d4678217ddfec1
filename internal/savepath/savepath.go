package savepath

import (
	"context"
	"fmt"
	"strings"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/clock"
)

// timestampLayout is ISO 8601 in UTC with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Dialog opens an interactive save chooser. An empty path means cancelled.
type Dialog interface {
	ShowSaveDialog(ctx context.Context, defaultName string) (string, error)
}

// Resolver computes where a recording will be written.
type Resolver struct {
	Dialog    Dialog
	Clock     clock.Clock
	Extension string
}

// Filename derives the recording's file name from title and the current time.
func (r *Resolver) Filename(title string) string {
	now := clock.Or(r.Clock).Now().UTC()
	stamp := strings.ReplaceAll(now.Format(timestampLayout), ":", "-")
	ext := strings.TrimPrefix(r.Extension, ".")
	if ext == "" {
		ext = "webm"
	}
	return fmt.Sprintf("%s_%s.%s", slug(title), stamp, ext)
}

// Resolve returns the destination path. With a directory the path is built
// without prompting; otherwise the save dialog decides. Cancelling it returns
// a SAVE_CANCELLED error and a failing dialog a BRIDGE_UNAVAILABLE one.
func (r *Resolver) Resolve(ctx context.Context, dir, title string) (string, error) {
	name := r.Filename(title)
	if dir != "" {
		return Join(dir, name), nil
	}
	if r.Dialog == nil {
		return "", apperr.New(apperr.CodeBridgeUnavailable, "No save dialog available; configure a recording directory.")
	}
	path, err := r.Dialog.ShowSaveDialog(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.Wrap(err, apperr.CodeBridgeUnavailable, "The save dialog could not be shown.")
	}
	if path == "" {
		return "", apperr.New(apperr.CodeSaveCancelled, "Save cancelled.")
	}
	return path, nil
}

// Join appends name to dir, adding a separator only when dir lacks a
// trailing one. Backslash is used for directories written Windows-style.
func Join(dir, name string) string {
	if strings.HasSuffix(dir, "/") || strings.HasSuffix(dir, `\`) {
		return dir + name
	}
	sep := "/"
	if strings.Contains(dir, `\`) && !strings.Contains(dir, "/") {
		sep = `\`
	}
	return dir + sep + name
}

// slug collapses whitespace runs to underscores and replaces characters
// that are not allowed in file names.
func slug(title string) string {
	s := strings.Join(strings.Fields(title), "_")
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '-'
		}
		return r
	}, s)
}
