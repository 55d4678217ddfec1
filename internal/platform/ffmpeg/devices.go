package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/capture"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
)

// frameSamples is 20ms at 48kHz.
const frameSamples = 960

// startGrace is how long a capture process may take to produce audio before
// it is assumed to be running on a silent device.
const startGrace = 3 * time.Second

// Devices implements capture.MediaDevices and capture.SourceLocator.
type Devices struct {
	cfg Config
	run Runner
}

func NewDevices(cfg Config) *Devices {
	return &Devices{cfg: cfg.withDefaults(), run: execRunner}
}

// GetUserMedia starts an ffmpeg capture process for the requested input.
// Desktop requests capture the source's output; a video part is granted as
// an inert track since ffmpeg audio capture carries no picture.
func (d *Devices) GetUserMedia(ctx context.Context, c capture.Constraints) (*media.Stream, error) {
	if c.Audio == nil {
		return nil, apperr.New(apperr.CodeDeviceUnavailable, "No audio requested.")
	}
	device := "default"
	label := "Default microphone"
	switch {
	case c.Audio.DesktopSourceID != "":
		device = c.Audio.DesktopSourceID
		label = "System audio"
	case c.Audio.DeviceID != "":
		device = c.Audio.DeviceID
		label = device
	}

	track, err := d.open(ctx, device, label)
	if err != nil {
		return nil, err
	}
	tracks := []media.Track{track}
	if c.Video != nil {
		tracks = append(tracks, media.NewTrack(media.KindVideo, "desktop", 0, nil))
	}
	return media.NewStream(tracks...), nil
}

func (d *Devices) open(ctx context.Context, device, label string) (*media.SourceTrack, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, d.cfg.Path, captureArgs(d.cfg, device)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err = cmd.Start(); err != nil {
		cancel()
		return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, fmt.Sprintf("Could not start capture: %v", err))
	}

	exited := make(chan struct{})
	var waitErr error
	track := media.NewTrack(media.KindAudio, label, d.cfg.SampleRate, func() {
		cancel()
		<-exited
	})

	ready := make(chan struct{})
	var readyOnce sync.Once
	go func() {
		pump(stdout, track, func() { readyOnce.Do(func() { close(ready) }) })
		waitErr = cmd.Wait()
		close(exited)
		track.Stop()
	}()

	select {
	case <-ready:
	case <-exited:
		return nil, captureError(device, waitErr, stderr.String())
	case <-time.After(startGrace):
		slog.Warn("capture produced no audio yet", "device", device)
	case <-ctx.Done():
		track.Stop()
		return nil, ctx.Err()
	}
	slog.Info("capture started", "device", device, "format", d.cfg.InputFormat)
	return track, nil
}

// pump reads float32 frames from r and pushes them to track until EOF or stop.
func pump(r io.Reader, track *media.SourceTrack, onFirst func()) {
	buf := make([]byte, frameSamples*4)
	br := bufio.NewReaderSize(r, len(buf)*4)
	for {
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			onFirst()
			samples, derr := audio.Decode(buf[:n], audio.FormatF32LE)
			if derr == nil && !track.Push(samples) {
				io.Copy(io.Discard, br)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func captureError(device string, err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "not permitted") || strings.Contains(lower, "denied"):
		return apperr.Wrap(err, apperr.CodePermissionDenied, "Microphone permission denied.").WithDetail("stderr", msg)
	case msg == "":
		msg = fmt.Sprint(err)
	}
	return apperr.Wrap(err, apperr.CodeDeviceUnavailable, fmt.Sprintf("Audio device %q unavailable: %s", device, msg)).
		WithDetail("device", device)
}

// EnumerateDevices lists capture sources.
func (d *Devices) EnumerateDevices(ctx context.Context) ([]capture.DeviceInfo, error) {
	if d.cfg.InputFormat == "avfoundation" {
		out, _ := d.run(ctx, d.cfg.Path, "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "")
		return parseAVFoundation(out), nil
	}
	out, err := d.run(ctx, "pactl", "list", "short", "sources")
	if err != nil {
		return nil, fmt.Errorf("pactl list sources: %w", err)
	}
	def, _ := d.run(ctx, "pactl", "get-default-source")
	return parsePactlSources(out, strings.TrimSpace(string(def))), nil
}

// DefaultDesktopSourceID returns the monitor of the default output on
// PulseAudio, or a loopback device such as BlackHole on macOS. An empty id
// means no capturable desktop output exists.
func (d *Devices) DefaultDesktopSourceID(ctx context.Context) (string, error) {
	if d.cfg.InputFormat == "avfoundation" {
		devices, err := d.EnumerateDevices(ctx)
		if err != nil {
			return "", err
		}
		for _, dev := range devices {
			if loopback.MatchString(dev.Label) {
				return dev.ID, nil
			}
		}
		return "", nil
	}
	out, err := d.run(ctx, "pactl", "get-default-sink")
	if err != nil {
		return "", fmt.Errorf("pactl get-default-sink: %w", err)
	}
	sink := strings.TrimSpace(string(out))
	if sink == "" {
		return "", nil
	}
	return sink + ".monitor", nil
}

var loopback = regexp.MustCompile(`(?i)blackhole|soundflower|loopback`)

// parsePactlSources parses `pactl list short sources`:
// index, name, driver, sample spec, state separated by tabs.
func parsePactlSources(out []byte, defaultSource string) []capture.DeviceInfo {
	var devices []capture.DeviceInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		label := name
		kind := "audioinput"
		if strings.HasSuffix(name, ".monitor") {
			kind = "audiooutput-monitor"
			label = "Monitor of " + strings.TrimSuffix(name, ".monitor")
		}
		devices = append(devices, capture.DeviceInfo{
			ID:      name,
			Label:   label,
			Kind:    kind,
			Default: name == defaultSource,
		})
	}
	return devices
}

var avDevice = regexp.MustCompile(`\]\s*\[(\d+)\]\s*(.+)$`)

// parseAVFoundation parses the device listing ffmpeg prints to stderr,
// keeping only the audio section.
func parseAVFoundation(out []byte) []capture.DeviceInfo {
	var devices []capture.DeviceInfo
	inAudio := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "AVFoundation video devices"):
			inAudio = false
			continue
		case strings.Contains(line, "AVFoundation audio devices"):
			inAudio = true
			continue
		}
		if !inAudio {
			continue
		}
		m := avDevice.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		devices = append(devices, capture.DeviceInfo{
			ID:      m[1],
			Label:   strings.TrimSpace(m[2]),
			Kind:    "audioinput",
			Default: m[1] == "0",
		})
	}
	return devices
}
