package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// NewDialogs picks a dialog implementation. "auto" uses zenity when a
// display is available, otherwise dialogs always cancel.
func NewDialogs(mode string, in io.Reader, out io.Writer) (Dialogs, error) {
	switch mode {
	case "zenity":
		return Zenity{}, nil
	case "terminal":
		return &Terminal{In: in, Out: out}, nil
	case "none":
		return None{}, nil
	case "", "auto":
		if hasDisplay() {
			if _, err := exec.LookPath("zenity"); err == nil {
				return Zenity{}, nil
			}
		}
		return None{}, nil
	}
	return nil, fmt.Errorf("unknown dialogs mode %q", mode)
}

func hasDisplay() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// None cancels every dialog, for headless use where a recording directory
// must be configured.
type None struct{}

func (None) SaveFile(context.Context, string) (string, error) { return "", nil }
func (None) SelectDirectory(context.Context) (string, error)  { return "", nil }

// Zenity shows GTK dialogs through the zenity binary.
type Zenity struct {
	Path string
}

func (z Zenity) SaveFile(ctx context.Context, defaultName string) (string, error) {
	return z.run(ctx, "--file-selection", "--save", "--confirm-overwrite",
		"--title=Save recording", "--filename="+defaultName)
}

func (z Zenity) SelectDirectory(ctx context.Context) (string, error) {
	return z.run(ctx, "--file-selection", "--directory", "--title=Recording directory")
}

// run returns "" when the user closes the dialog, which zenity reports with exit code 1.
func (z Zenity) run(ctx context.Context, args ...string) (string, error) {
	path := z.Path
	if path == "" {
		path = "zenity"
	}
	out, err := exec.CommandContext(ctx, path, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("zenity: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Terminal prompts on a line-oriented terminal. An empty answer accepts the
// default; "-" or end of input cancels.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func (t *Terminal) SaveFile(ctx context.Context, defaultName string) (string, error) {
	answer, ok, err := t.ask(ctx, fmt.Sprintf("Save recording as [%s]: ", defaultName))
	if err != nil || !ok {
		return "", err
	}
	if answer == "" {
		return defaultName, nil
	}
	if info, statErr := os.Stat(answer); statErr == nil && info.IsDir() {
		return filepath.Join(answer, defaultName), nil
	}
	return answer, nil
}

func (t *Terminal) SelectDirectory(ctx context.Context) (string, error) {
	answer, ok, err := t.ask(ctx, "Recording directory: ")
	if err != nil || !ok || answer == "" {
		return "", err
	}
	return answer, nil
}

func (t *Terminal) ask(ctx context.Context, prompt string) (string, bool, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	fmt.Fprint(t.Out, prompt)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := t.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", false, r.err
		}
		if r.err != nil && line == "" {
			return "", false, nil
		}
		if line == "-" {
			return "", false, nil
		}
		return line, true, nil
	}
}
