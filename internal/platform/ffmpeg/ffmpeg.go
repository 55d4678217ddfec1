// Package ffmpeg captures and encodes audio by driving ffmpeg subprocesses.
// Capture reads PulseAudio on Linux and AVFoundation on macOS.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Config selects the ffmpeg binary and capture backend.
type Config struct {
	Path        string
	InputFormat string
	SampleRate  int
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = DefaultInputFormat()
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	return c
}

// DefaultInputFormat returns the capture backend for the running OS.
func DefaultInputFormat() string {
	if runtime.GOOS == "darwin" {
		return "avfoundation"
	}
	return "pulse"
}

// Available reports whether the ffmpeg binary can be found.
func (c Config) Available() error {
	c = c.withDefaults()
	if _, err := exec.LookPath(c.Path); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): install ffmpeg or set ffmpeg_path", c.Path)
	}
	return nil
}

// Runner runs a command to completion and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// captureArgs builds the ffmpeg command line that streams device as mono
// float32 PCM on stdout.
func captureArgs(cfg Config, device string) []string {
	input := device
	if cfg.InputFormat == "avfoundation" && !strings.HasPrefix(device, ":") {
		input = ":" + device
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", cfg.InputFormat,
		"-i", input,
		"-ac", "1",
		"-ar", fmt.Sprint(cfg.SampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

// codecs maps supported media types to ffmpeg output arguments.
var codecs = map[string][]string{
	"audio/webm;codecs=opus": {"-c:a", "libopus", "-f", "webm"},
	"audio/webm":             {"-c:a", "libopus", "-f", "webm"},
	"audio/ogg;codecs=opus":  {"-c:a", "libopus", "-f", "ogg"},
	"audio/ogg":              {"-c:a", "libvorbis", "-f", "ogg"},
}

// encodeArgs builds the ffmpeg command line that reads mono float32 PCM on
// stdin and writes the container for mime on stdout.
func encodeArgs(sampleRate int, mime string) ([]string, error) {
	out, ok := codecs[mime]
	if !ok {
		return nil, fmt.Errorf("ffmpeg: unsupported type %q", mime)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "f32le", "-ar", fmt.Sprint(sampleRate), "-ac", "1",
		"-i", "pipe:0",
	}
	args = append(args, out...)
	return append(args, "pipe:1"), nil
}
